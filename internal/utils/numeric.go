package utils

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseNumericString converts the string form of an Edm.Int64 or Edm.Decimal
// value (sent quoted by IEEE754Compatible services) to a JSON number. The
// digits are kept verbatim so no precision is lost.
func ParseNumericString(s string, integer bool) (json.Number, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if integer {
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return "", false
		}
		return json.Number(s), true
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil || isSpecialFloat(s) {
		return "", false
	}
	return json.Number(FormatDecimalString(s)), true
}

// isSpecialFloat reports literals ParseFloat accepts but JSON does not
func isSpecialFloat(s string) bool {
	lower := strings.ToLower(strings.TrimLeft(s, "+-"))
	return strings.HasPrefix(lower, "inf") || lower == "nan" || strings.HasPrefix(lower, "0x")
}

// FormatDecimalString strips a leading plus sign and redundant leading zeros
// so the value is a valid JSON number.
func FormatDecimalString(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	intPart, frac, hasFrac := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	out := intPart
	if hasFrac {
		if frac == "" {
			frac = "0"
		}
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
