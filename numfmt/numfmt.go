// Package numfmt renders trade amounts the way the bot displays them:
// just enough precision to be readable, never scientific notation.
package numfmt

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// sigWindow is how many significant digits are kept after the leading
// zeros for values below one.
const sigWindow = 4

// FormatSmart formats a number with precision that shrinks as the value
// grows: one decimal at >=10, two decimals at >=1, and for values below
// one the first four significant digits after the leading zeros. Rounding
// is half-up on the decimal digit sequence, so FormatSmart(1.005) is
// "1.01" and FormatSmart(0.000123456) is "0.0001235". Trailing zeros are
// stripped. Non-finite values render as "N/A": decimal.NewFromFloat
// panics on NaN and Inf.
func FormatSmart(num float64) string {
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return "N/A"
	}
	return formatSmart(decimal.NewFromFloat(num))
}

// FormatSmartString is FormatSmart for numbers already held as decimal
// strings; malformed input renders as "N/A".
func FormatSmartString(s string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return "N/A"
	}
	return formatSmart(d)
}

func formatSmart(d decimal.Decimal) string {
	neg := d.IsNegative()
	abs := d.Abs()

	var out decimal.Decimal
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10)):
		out = abs.Round(1)
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		out = abs.Round(2)
	case abs.IsZero():
		return "0"
	default:
		// Count the zeros between the decimal point and the first
		// significant digit, then round half-up at the end of the
		// significant-digit window.
		frac := abs.StringFixed(13)
		dot := strings.IndexByte(frac, '.')
		zeros := 0
		for _, c := range frac[dot+1:] {
			if c != '0' {
				break
			}
			zeros++
		}
		if zeros >= 13 {
			// Too small to show anything within 13 decimals.
			return "0"
		}
		out = abs.Round(int32(zeros + sigWindow))
	}

	s := trimTrailingZeros(out.StringFixed(17))
	if neg && s != "0" {
		s = "-" + s
	}
	return s
}

func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatBig abbreviates large magnitudes with K/M/B suffixes and two
// decimals; values under a thousand keep two decimals unsuffixed.
func FormatBig(value float64) string {
	sign := ""
	abs := value
	if abs < 0 {
		sign = "-"
		abs = -abs
	}
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%s%.2fB", sign, abs/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%s%.2fM", sign, abs/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%s%.2fK", sign, abs/1e3)
	}
	return fmt.Sprintf("%s%.2f", sign, abs)
}
