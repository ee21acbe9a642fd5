// Package gather provides secondary historical data sources that the fetch
// engine consults when the brokerage gateway cannot serve a request.
package gather

import (
	"context"
	"time"

	"ibkrfeed/internal/domain"
)

// Source is a secondary provider of daily closing prices.
type Source interface {
	// Name returns the source identifier; it doubles as the cache variant.
	Name() string
	// Supports reports whether the source can serve the instrument class.
	Supports(class domain.InstrumentClass) bool
	// DailyCloses returns daily closes for symbol within r.
	DailyCloses(ctx context.Context, symbol string, r DateRange) ([]domain.Point, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}
