package domain

import (
	"math"
	"sort"
	"time"
)

// Point is a single observation in a Series.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a time-ordered sequence of values with strictly increasing
// timestamps. The zero value is an empty series.
type Series struct {
	Name   string
	Points []Point
}

// NewSeries builds a Series from raw points: invalid points are dropped, the
// rest are sorted by time and duplicate timestamps keep the last occurrence
// in input order. Timestamps are converted to UTC.
func NewSeries(name string, raw []Point) Series {
	pts := make([]Point, 0, len(raw))
	for _, p := range raw {
		if !validPoint(p) {
			continue
		}
		pts = append(pts, Point{Time: p.Time.UTC(), Value: p.Value})
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })

	out := pts[:0]
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return Series{Name: name, Points: out}
}

func validPoint(p Point) bool {
	return !p.Time.IsZero() && !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0)
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Points) }

// Empty reports whether the series has no points.
func (s Series) Empty() bool { return len(s.Points) == 0 }

// First returns the earliest point. It panics on an empty series.
func (s Series) First() Point { return s.Points[0] }

// Last returns the latest point. It panics on an empty series.
func (s Series) Last() Point { return s.Points[len(s.Points)-1] }

// WithName returns a copy of s carrying the given name.
func (s Series) WithName(name string) Series {
	s.Name = name
	return s
}

// ResampleMonthEnd groups points by calendar month and keeps the last value
// of each month, labelled with the month's last day at midnight UTC. Months
// without observations are omitted. Resampling an already month-end series
// returns an identical series.
func (s Series) ResampleMonthEnd() Series {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		label := MonthEnd(p.Time)
		if n := len(out); n > 0 && out[n-1].Time.Equal(label) {
			out[n-1].Value = p.Value
			continue
		}
		out = append(out, Point{Time: label, Value: p.Value})
	}
	return Series{Name: s.Name, Points: out}
}

// Clip keeps points whose calendar day falls within [start, end] inclusive.
// Time-of-day on start and end is ignored.
func (s Series) Clip(start, end time.Time) Series {
	lo, hi := TruncateDay(start), TruncateDay(end)
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		d := TruncateDay(p.Time)
		if d.Before(lo) || d.After(hi) {
			continue
		}
		out = append(out, p)
	}
	return Series{Name: s.Name, Points: out}
}

// TruncateDay returns midnight UTC of t's calendar day in UTC.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns midnight UTC of the last day of t's month.
func MonthEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}
