package marketdata

import (
	"fmt"
	"time"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/profile"
)

// DurationYears returns the number of whole years needed to cover
// [start, anchor]: the full years elapsed, plus one if the last anniversary
// is exceeded, and never less than one.
func DurationYears(start, anchor time.Time) int {
	s, e := domain.TruncateDay(start), domain.TruncateDay(anchor)
	years := e.Year() - s.Year()
	anniversary := s.AddDate(years, 0, 0)
	if anniversary.After(e) {
		years--
		anniversary = s.AddDate(years, 0, 0)
	}
	if e.After(anniversary) {
		years++
	}
	if years < 1 {
		years = 1
	}
	return years
}

// DurationString formats a year count the way the gateway expects ("3 Y").
func DurationString(years int) string {
	return fmt.Sprintf("%d Y", years)
}

// historyRequest builds the gateway request for one variant. Open-ended
// profiles anchor at now and leave End zero so the gateway serves the
// latest continuous data.
func historyRequest(p *profile.Profile, variant string, start, end, now time.Time) gateway.HistoryRequest {
	req := gateway.HistoryRequest{
		BarSize:    p.BarSize(),
		WhatToShow: variant,
		UseRTH:     p.RTHOnly(),
	}
	anchor := end
	if p.OpenEnded() {
		anchor = now
	} else {
		req.End = domain.TruncateDay(end).Add(24*time.Hour - time.Second)
	}
	req.Duration = DurationString(DurationYears(start, anchor))
	return req
}

// Normalize turns raw bars into a clean close series: ordered, deduplicated
// (last wins), resampled to month-end when the profile is monthly, and
// clipped to [start, end].
func Normalize(name string, bars []gateway.Bar, p *profile.Profile, start, end time.Time) domain.Series {
	pts := make([]domain.Point, 0, len(bars))
	for _, b := range bars {
		pts = append(pts, domain.Point{Time: b.Time, Value: b.Close})
	}
	return normalizePoints(name, pts, p, start, end)
}

func normalizePoints(name string, pts []domain.Point, p *profile.Profile, start, end time.Time) domain.Series {
	s := domain.NewSeries(name, pts)
	if p != nil && p.Monthly() {
		s = s.ResampleMonthEnd()
	}
	return s.Clip(start, end)
}

// ToMonthlyClose resamples s to month-end closes within [start, end].
func ToMonthlyClose(s domain.Series, start, end time.Time) domain.Series {
	return s.ResampleMonthEnd().Clip(start, end)
}
