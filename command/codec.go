// Package command encodes inline-button callback payloads and routes
// decoded commands to registered handlers.
//
// A callback payload is "NAME::k1=v1&k2=v2" with URL-escaped values. The
// parameter block may optionally be base64-wrapped to keep characters
// Telegram-safe; Parse detects and unwraps that transparently. Telegram
// rejects callback data above 64 bytes, so Build fails loudly with
// CommandTooLargeError instead of truncating.
package command

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// MaxCallbackBytes is the Telegram Bot API limit for callback_data.
const MaxCallbackBytes = 64

// CommandTooLargeError reports a composed callback payload over the
// platform limit. Callers are expected to shorten keys and values, not
// to retry.
type CommandTooLargeError struct {
	Name string
	Size int
}

func (e *CommandTooLargeError) Error() string {
	return fmt.Sprintf("command %q is %d bytes, over the %d byte callback limit", e.Name, e.Size, MaxCallbackBytes)
}

// Build composes a callback payload from a command name and parameters.
// Keys are emitted in sorted order so payloads are stable.
func Build(name string, params map[string]string) (string, error) {
	return build(name, params, false)
}

// BuildPacked is Build with the parameter block base64-wrapped. The size
// limit applies to the wrapped form.
func BuildPacked(name string, params map[string]string) (string, error) {
	return build(name, params, true)
}

func build(name string, params map[string]string, packed bool) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	query := strings.Join(pairs, "&")
	if packed {
		query = base64.StdEncoding.EncodeToString([]byte(query))
	}

	cmd := name
	if query != "" {
		cmd = name + "::" + query
	}
	if len(cmd) > MaxCallbackBytes {
		return "", &CommandTooLargeError{Name: name, Size: len(cmd)}
	}
	return cmd, nil
}

// Parse splits a callback payload into its command name and parameter
// map. A parameter block without any "=" is treated as base64-wrapped.
func Parse(data string) (string, map[string]string) {
	name, query, ok := strings.Cut(data, "::")
	params := map[string]string{}
	if !ok || query == "" {
		return name, params
	}

	// A plain query string carries '=' mid-string, which is invalid
	// base64, so decoding only succeeds on wrapped blocks.
	if raw, err := base64.StdEncoding.DecodeString(query); err == nil && strings.Contains(string(raw), "=") {
		query = string(raw)
	}

	for _, part := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(part, "=")
		if k == "" {
			continue
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		params[key] = val
	}
	return name, params
}
