// Package util holds small parsing helpers shared by the entry points.
package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AutoFormat parses dates as RFC3339 (optionally with nanoseconds) or unix seconds.
const AutoFormat = "auto"

var strftimeLayout = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'j': "002",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'f': "000000",
	'p': "PM",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// StrftimeToLayout converts a strftime pattern such as "%Y-%m-%d %H:%M" to a Go layout.
// Literal digits are rejected because Go layouts cannot escape them.
func StrftimeToLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' {
			if ch >= '0' && ch <= '9' {
				return "", fmt.Errorf("date format %q: literal digit at %d", format, i)
			}
			b.WriteByte(ch)
			continue
		}
		if i+1 == len(format) {
			return "", fmt.Errorf("date format %q: dangling %%", format)
		}
		i++
		l, ok := strftimeLayout[format[i]]
		if !ok {
			return "", fmt.Errorf("date format %q: unsupported directive %%%c", format, format[i])
		}
		b.WriteString(l)
	}
	return b.String(), nil
}

// ParseDates parses every entry with the strftime format, in UTC unless the format has a zone.
func ParseDates(dates []string, format string) ([]time.Time, error) {
	out := make([]time.Time, len(dates))
	if format == AutoFormat {
		for i, s := range dates {
			t, ok := ParseTime(s)
			if !ok {
				return nil, fmt.Errorf("dates[%d]: cannot parse %q", i, s)
			}
			out[i] = t
		}
		return out, nil
	}
	layout, err := StrftimeToLayout(format)
	if err != nil {
		return nil, err
	}
	for i, s := range dates {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("dates[%d]: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

// FormatDates renders timestamps with the strftime format.
func FormatDates(ts []time.Time, format string) ([]string, error) {
	layout := time.RFC3339Nano
	if format != AutoFormat {
		var err error
		if layout, err = StrftimeToLayout(format); err != nil {
			return nil, err
		}
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(layout)
	}
	return out, nil
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}
