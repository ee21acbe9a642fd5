package util

import "time"

// MonthBounds returns the first instant of t's month and the first instant
// of the following month, both in UTC.
func MonthBounds(t time.Time) (start, next time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// OverlapsMonth reports whether the window [start, end] intersects the
// calendar month containing now. Out-of-order bounds are swapped.
func OverlapsMonth(start, end, now time.Time) bool {
	if end.Before(start) {
		start, end = end, start
	}
	ms, next := MonthBounds(now)
	return start.Before(next) && !end.Before(ms)
}
