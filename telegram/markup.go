package telegram

import "strings"

// EscapeHTML escapes user-controlled text interpolated into HTML
// parse-mode messages.
func EscapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// NormalizeMarkup converts the emphasis markers agent replies tend to
// use into the HTML tags Telegram renders: **bold**, *italic*, _italic_
// and `code`. Anything else passes through untouched.
func NormalizeMarkup(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], "**"):
			if end := strings.Index(text[i+2:], "**"); end >= 0 {
				b.WriteString("<b>")
				b.WriteString(text[i+2 : i+2+end])
				b.WriteString("</b>")
				i += end + 4
				continue
			}
			b.WriteString("**")
			i += 2
		case text[i] == '*':
			if end := strings.IndexByte(text[i+1:], '*'); end >= 0 {
				b.WriteString("<i>")
				b.WriteString(text[i+1 : i+1+end])
				b.WriteString("</i>")
				i += end + 2
				continue
			}
			b.WriteByte('*')
			i++
		case text[i] == '`':
			if end := strings.IndexByte(text[i+1:], '`'); end >= 0 {
				b.WriteString("<code>")
				b.WriteString(text[i+1 : i+1+end])
				b.WriteString("</code>")
				i += end + 2
				continue
			}
			b.WriteByte('`')
			i++
		case text[i] == '_' && isWordMarker(text, i):
			if end := strings.IndexByte(text[i+1:], '_'); end >= 0 {
				b.WriteString("<i>")
				b.WriteString(text[i+1 : i+1+end])
				b.WriteString("</i>")
				i += end + 2
				continue
			}
			b.WriteByte('_')
			i++
		default:
			b.WriteByte(text[i])
			i++
		}
	}
	return b.String()
}

// isWordMarker reports whether the underscore at i opens emphasis rather
// than sitting inside an identifier like tx_hash.
func isWordMarker(text string, i int) bool {
	if i > 0 {
		prev := text[i-1]
		if prev != ' ' && prev != '\n' && prev != '\t' && prev != '(' {
			return false
		}
	}
	return i+1 < len(text) && text[i+1] != ' '
}
