package normalize

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical text form of parsed timestamps. It is
// fixed-width, so byte-wise order equals chronological order.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the canonical text form of calendar dates.
const DateLayout = "2006-01-02"

// Common date formats found in legacy exports.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp formats tried for visit_datetime, most specific first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// ParseDate attempts to parse a date string in multiple common formats.
// Returns nil if the input is empty or unparseable.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParseTimestamp parses a date-time string. A zoned input keeps its local
// wall-clock time and loses the offset, so a visit is dated by the day it
// happened where it happened. The result is always in UTC. A bare date
// yields midnight. Returns nil if the input is empty or unparseable.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
			return &t
		}
	}
	return nil
}

// CanonicalTimestamp parses s and re-renders it in TimestampLayout.
// ok is false when s is empty or unparseable.
func CanonicalTimestamp(s string) (string, bool) {
	t := ParseTimestamp(s)
	if t == nil {
		return "", false
	}
	return t.Format(TimestampLayout), true
}
