package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Regex for parsing OData v2 legacy date format: /Date(milliseconds[+/-offset])/
var odataLegacyDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([\+\-]\d{4})?\)/$`)

// timestampLayouts are tried in order by ParseTimestamp. Values without a
// zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// IsODataLegacyDate checks if a string is in OData v2 legacy date format
func IsODataLegacyDate(s string) bool {
	return odataLegacyDateRegex.MatchString(s)
}

// ParseODataLegacyDate extracts milliseconds and offset from OData legacy date
func ParseODataLegacyDate(s string) (milliseconds int64, offset string, ok bool) {
	matches := odataLegacyDateRegex.FindStringSubmatch(s)
	if len(matches) < 2 {
		return 0, "", false
	}

	ms, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", false
	}

	if len(matches) > 2 && matches[2] != "" {
		offset = matches[2]
	}

	return ms, offset, true
}

// ConvertODataLegacyToISO converts OData legacy date to RFC 3339 in UTC,
// keeping milliseconds. The milliseconds are already UTC; the offset is
// informational only.
func ConvertODataLegacyToISO(legacy string) string {
	ms, _, ok := ParseODataLegacyDate(legacy)
	if !ok {
		return legacy // Return as-is if not valid legacy format
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses replication-key and bookmark values: RFC 3339 with
// any sub-second precision, zone-less ISO 8601 and OData legacy dates.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ms, _, ok := ParseODataLegacyDate(s); ok {
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatFilterTimestamp formats t as an OData DateTimeOffset literal
func FormatFilterTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
