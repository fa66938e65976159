package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405Z"
	floatingLayout = "20060102T150405"
)

// EscapeText encodes a TEXT property value per RFC 5545: backslash,
// semicolon, comma, and newline are escaped.
func EscapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// bare CR never appears in TEXT values
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeText decodes a TEXT property value.
func UnescapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// FormatDate renders a calendar date as an iCalendar DATE value.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// FormatDateTime renders a timestamp as an iCalendar UTC DATE-TIME value
// with second precision.
func FormatDateTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(dateTimeLayout)
}

// ParseDate reads a DATE or DATE-TIME value, truncating to the calendar
// date. Remote due values never carry a meaningful time of day here.
func ParseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, 'T'); i >= 0 {
		v = v[:i]
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("invalid date value %q: %w", v, err)
	}
	d := task.NormalizeDue(t)
	return &d, nil
}

// ParseDateTime reads a DATE-TIME value. Floating times are taken as
// UTC; pure DATE values read as midnight UTC.
func ParseDateTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{dateTimeLayout, floatingLayout, dateLayout} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time value %q", v)
}

// StatusToWire maps a local status to its VTODO STATUS value.
func StatusToWire(s task.Status) string {
	if s == task.StatusCompleted {
		return "COMPLETED"
	}
	return "NEEDS-ACTION"
}

// StatusFromWire maps a VTODO STATUS value to a local status. Every
// remote state other than COMPLETED (IN-PROCESS, CANCELLED, absent)
// reads as open.
func StatusFromWire(v string) task.Status {
	if strings.EqualFold(strings.TrimSpace(v), "COMPLETED") {
		return task.StatusCompleted
	}
	return task.StatusOpen
}
