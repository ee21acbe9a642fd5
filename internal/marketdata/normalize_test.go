package marketdata

import (
	"math"
	"testing"
	"time"

	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/profile"
)

func TestDurationYears(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{"same day", day(2024, 5, 1), day(2024, 5, 1), 1},
		{"under a year", day(2024, 1, 1), day(2024, 11, 30), 1},
		{"exact anniversary", day(2023, 1, 1), day(2024, 1, 1), 1},
		{"one day past anniversary", day(2023, 1, 1), day(2024, 1, 2), 2},
		{"default window", day(2022, 10, 18), day(2024, 10, 17), 2},
		{"exact two years", day(2022, 3, 15), day(2024, 3, 15), 2},
		{"year boundary", day(2022, 12, 31), day(2024, 1, 1), 2},
		{"inverted", day(2024, 1, 1), day(2023, 1, 1), 1},
		{"time of day ignored", day(2023, 1, 1).Add(20 * time.Hour), day(2024, 1, 1).Add(time.Hour), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DurationYears(tt.start, tt.end); got != tt.want {
				t.Errorf("DurationYears(%s, %s) = %d, want %d", tt.start.Format(time.DateOnly), tt.end.Format(time.DateOnly), got, tt.want)
			}
		})
	}
	if got := DurationString(3); got != "3 Y" {
		t.Errorf("DurationString(3) = %q", got)
	}
}

func TestHistoryRequest(t *testing.T) {
	now := day(2024, 6, 15).Add(13 * time.Hour)
	start, end := day(2021, 6, 1), day(2022, 6, 30)

	fx := historyRequest(profile.FX, profile.Bid, start, end, now)
	if fx.Duration != "2 Y" {
		t.Errorf("fx duration = %q, want 2 Y", fx.Duration)
	}
	if want := day(2022, 6, 30).Add(24*time.Hour - time.Second); !fx.End.Equal(want) {
		t.Errorf("fx end = %v, want %v", fx.End, want)
	}
	if fx.WhatToShow != profile.Bid || fx.UseRTH || fx.BarSize != profile.BarDaily {
		t.Errorf("fx request = %+v", fx)
	}

	fut := historyRequest(profile.Futures, profile.Trades, start, end, now)
	if fut.Duration != "4 Y" {
		t.Errorf("futures duration = %q, want 4 Y (anchored at now)", fut.Duration)
	}
	if !fut.End.IsZero() {
		t.Errorf("futures end = %v, want zero", fut.End)
	}
	if !fut.UseRTH || fut.BarSize != profile.BarMonthly {
		t.Errorf("futures request = %+v", fut)
	}
}

func TestNormalize(t *testing.T) {
	bars := []gateway.Bar{
		{Time: day(2023, 1, 3), Close: 3},
		{Time: day(2023, 1, 1), Close: 1},
		{Time: day(2023, 1, 2), Close: math.NaN()},
		{Time: time.Time{}, Close: 9},
		{Time: day(2023, 1, 3), Close: 33},
		{Time: day(2023, 2, 10), Close: 40},
		{Time: day(2023, 3, 5), Close: 50},
	}
	s := Normalize("X", bars, profile.Bond, day(2023, 1, 1), day(2023, 2, 28))
	want := []float64{1, 33, 40}
	if s.Len() != len(want) {
		t.Fatalf("len = %d, want %d: %v", s.Len(), len(want), s.Points)
	}
	for i, v := range want {
		if s.Points[i].Value != v {
			t.Errorf("point %d = %v, want %v", i, s.Points[i].Value, v)
		}
	}

	m := Normalize("X", bars, profile.Futures, day(2023, 1, 1), day(2023, 3, 31))
	if m.Len() != 3 {
		t.Fatalf("monthly len = %d, want 3", m.Len())
	}
	if !m.Points[0].Time.Equal(day(2023, 1, 31)) || m.Points[0].Value != 33 {
		t.Errorf("january = %+v, want 2023-01-31 33", m.Points[0])
	}
}

func TestToMonthlyCloseIdempotent(t *testing.T) {
	s := Normalize("X", dailyBars(day(2023, 1, 1), 120, 1), profile.FX, day(2023, 1, 1), day(2023, 4, 30))
	once := ToMonthlyClose(s, day(2023, 1, 1), day(2023, 4, 30))
	twice := ToMonthlyClose(once, day(2023, 1, 1), day(2023, 4, 30))
	if once.Len() != 4 || twice.Len() != once.Len() {
		t.Fatalf("len once=%d twice=%d, want 4", once.Len(), twice.Len())
	}
	for i := range once.Points {
		if once.Points[i] != twice.Points[i] {
			t.Errorf("point %d: %v != %v", i, once.Points[i], twice.Points[i])
		}
	}
}
