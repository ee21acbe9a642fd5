// Package httpapi serves the fetch engine, account facade and cache
// maintenance over a JSON REST API.
package httpapi

import (
	"encoding/json"
	"math"
	"time"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/profile"
)

const dateLayout = "2006-01-02"

// SeriesJSON is one symbol's close series keyed by ISO date.
type SeriesJSON struct {
	Symbol string             `json:"symbol"`
	Bars   int                `json:"bars"`
	Start  string             `json:"start,omitempty"`
	End    string             `json:"end,omitempty"`
	Data   map[string]float64 `json:"data"`
}

// SeriesResponse is the body of series and monthly responses.
type SeriesResponse struct {
	Class  string       `json:"class"`
	Start  string       `json:"start"`
	End    string       `json:"end"`
	Series []SeriesJSON `json:"series"`
}

// InstrumentJSON identifies one snapshot target.
type InstrumentJSON struct {
	Symbol string          `json:"symbol"`
	Class  string          `json:"class"`
	Hint   json.RawMessage `json:"hint,omitempty"`
}

// SnapshotRequestJSON is the body of POST /api/snapshot.
type SnapshotRequestJSON struct {
	Instruments    []InstrumentJSON `json:"instruments"`
	TimeoutSeconds float64          `json:"timeout_seconds,omitempty"`
}

// SnapshotResponseJSON carries one snapshot per requested instrument.
type SnapshotResponseJSON struct {
	Snapshots []domain.Snapshot `json:"snapshots"`
}

// ProfileJSON describes a fetch profile.
type ProfileJSON struct {
	Class       string   `json:"class"`
	Chain       []string `json:"chain"`
	BarSize     string   `json:"bar_size"`
	RTHOnly     bool     `json:"rth_only"`
	Duration    string   `json:"duration"`
	Description string   `json:"description"`
}

// HealthJSON reports process and gateway session state.
type HealthJSON struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
	Time       string `json:"time"`
}

func seriesJSON(symbol string, s domain.Series) SeriesJSON {
	out := SeriesJSON{Symbol: symbol, Bars: s.Len(), Data: make(map[string]float64, s.Len())}
	if s.Empty() {
		return out
	}
	out.Start = s.First().Time.Format(dateLayout)
	out.End = s.Last().Time.Format(dateLayout)
	for _, p := range s.Points {
		out.Data[p.Time.UTC().Format(dateLayout)] = round6(p.Value)
	}
	return out
}

func profileJSON(p *profile.Profile) ProfileJSON {
	return ProfileJSON{
		Class:       string(p.Class()),
		Chain:       p.Variants(),
		BarSize:     p.BarSize(),
		RTHOnly:     p.RTHOnly(),
		Duration:    p.Duration(),
		Description: p.Description(),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
