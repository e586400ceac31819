package util

import "time"

// ParseDate parses a calendar date in YYYY-MM-DD form, UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
