package domain

import (
	"math"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewSeriesSortsAndKeepsLastDuplicate(t *testing.T) {
	s := NewSeries("ES", []Point{
		{Time: day(2024, 1, 3), Value: 3},
		{Time: day(2024, 1, 1), Value: 1},
		{Time: day(2024, 1, 2), Value: 2},
		{Time: day(2024, 1, 1), Value: 10},
		{Time: time.Time{}, Value: 99},
		{Time: day(2024, 1, 4), Value: math.NaN()},
		{Time: day(2024, 1, 5), Value: math.Inf(1)},
	})

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	want := []float64{10, 2, 3}
	for i, p := range s.Points {
		if p.Value != want[i] {
			t.Errorf("Points[%d].Value = %v, want %v", i, p.Value, want[i])
		}
		if i > 0 && !p.Time.After(s.Points[i-1].Time) {
			t.Errorf("Points[%d] not strictly after previous", i)
		}
	}
	if s.Name != "ES" {
		t.Errorf("Name = %q, want %q", s.Name, "ES")
	}
}

func TestNewSeriesConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	s := NewSeries("", []Point{{Time: time.Date(2024, 3, 1, 20, 0, 0, 0, loc), Value: 1}})
	if got := s.First().Time.Location(); got != time.UTC {
		t.Errorf("Location = %v, want UTC", got)
	}
	if got := s.First().Time.Day(); got != 2 {
		t.Errorf("Day = %d, want 2", got)
	}
}

func TestResampleMonthEnd(t *testing.T) {
	s := NewSeries("X", []Point{
		{Time: day(2024, 1, 2), Value: 1},
		{Time: day(2024, 1, 31), Value: 2},
		{Time: day(2024, 2, 5), Value: 3},
		{Time: day(2024, 2, 20), Value: 4},
		{Time: day(2024, 4, 1), Value: 5},
	})

	m := s.ResampleMonthEnd()
	want := []Point{
		{Time: day(2024, 1, 31), Value: 2},
		{Time: day(2024, 2, 29), Value: 4},
		{Time: day(2024, 4, 30), Value: 5},
	}
	if m.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", m.Len(), len(want))
	}
	for i := range want {
		if !m.Points[i].Time.Equal(want[i].Time) || m.Points[i].Value != want[i].Value {
			t.Errorf("Points[%d] = %v, want %v", i, m.Points[i], want[i])
		}
	}
}

func TestResampleMonthEndIdempotent(t *testing.T) {
	var raw []Point
	for d := day(2023, 1, 1); d.Before(day(2024, 6, 1)); d = d.AddDate(0, 0, 3) {
		raw = append(raw, Point{Time: d, Value: float64(d.YearDay())})
	}
	once := NewSeries("X", raw).ResampleMonthEnd()
	twice := once.ResampleMonthEnd()

	if once.Len() != twice.Len() {
		t.Fatalf("Len() = %d after second resample, want %d", twice.Len(), once.Len())
	}
	for i := range once.Points {
		if once.Points[i] != twice.Points[i] {
			t.Errorf("Points[%d] = %v, want %v", i, twice.Points[i], once.Points[i])
		}
	}
}

func TestClipInclusiveByDay(t *testing.T) {
	s := NewSeries("X", []Point{
		{Time: day(2024, 1, 1), Value: 1},
		{Time: day(2024, 1, 2).Add(21 * time.Hour), Value: 2},
		{Time: day(2024, 1, 3), Value: 3},
		{Time: day(2024, 1, 4), Value: 4},
	})

	c := s.Clip(day(2024, 1, 2).Add(15*time.Hour), day(2024, 1, 3))
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if c.First().Value != 2 || c.Last().Value != 3 {
		t.Errorf("clipped values = %v, %v, want 2, 3", c.First().Value, c.Last().Value)
	}
}

func TestParseClass(t *testing.T) {
	tests := []struct {
		in   string
		want InstrumentClass
		ok   bool
	}{
		{"futures", ClassFutures, true},
		{" FX ", ClassFX, true},
		{"Bond", ClassBond, true},
		{"option", ClassOption, true},
		{"equity", ClassEquity, true},
		{"crypto", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseClass(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseClass(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseRight(t *testing.T) {
	for in, want := range map[string]Right{"c": RightCall, "CALL": RightCall, "P": RightPut, "put": RightPut} {
		got, ok := ParseRight(in)
		if !ok || got != want {
			t.Errorf("ParseRight(%q) = (%q, %v), want (%q, true)", in, got, ok, want)
		}
	}
	if _, ok := ParseRight("X"); ok {
		t.Error("ParseRight(\"X\") ok = true, want false")
	}
}
