// Package profile holds the static fetch policy for each instrument class.
package profile

import (
	"sort"
	"strings"

	"ibkrfeed/internal/domain"
)

// Bar sizes understood by the gateway.
const (
	BarDaily   = "1 day"
	BarMonthly = "1 month"
)

// Source variants (what the gateway should show).
const (
	Trades   = "TRADES"
	Midpoint = "MIDPOINT"
	Bid      = "BID"
	Ask      = "ASK"
)

// Profile is an immutable fetch policy: which source variants to try in
// order, at which bar size, and whether to restrict to regular trading hours.
// Registered profiles are shared; callers read them through the accessors.
type Profile struct {
	class       domain.InstrumentClass
	chain       []string
	barSize     string
	rthOnly     bool
	duration    string
	description string
}

// Class returns the canonical instrument class.
func (p *Profile) Class() domain.InstrumentClass { return p.class }

// BarSize returns the gateway bar size, e.g. "1 day".
func (p *Profile) BarSize() string { return p.barSize }

// RTHOnly reports whether bars are restricted to regular trading hours.
func (p *Profile) RTHOnly() bool { return p.rthOnly }

// Duration returns the default lookback, e.g. "2 Y".
func (p *Profile) Duration() string { return p.duration }

// Description returns a human-readable summary.
func (p *Profile) Description() string { return p.description }

// Monthly reports whether the profile fetches monthly bars.
func (p *Profile) Monthly() bool {
	return strings.Contains(strings.ToLower(p.barSize), "month")
}

// OpenEnded reports whether fetches for this profile anchor their duration
// at the current time rather than the requested end (continuous futures).
func (p *Profile) OpenEnded() bool {
	return p.class == domain.ClassFutures || p.class == domain.ClassFuturesDaily
}

// Variants returns a copy of the fallback chain.
func (p *Profile) Variants() []string {
	return append([]string(nil), p.chain...)
}

var (
	Futures = &Profile{
		class:       domain.ClassFutures,
		chain:       []string{Trades},
		barSize:     BarMonthly,
		rthOnly:     true,
		duration:    "2 Y",
		description: "continuous futures, monthly trade bars",
	}
	FuturesDaily = &Profile{
		class:       domain.ClassFuturesDaily,
		chain:       []string{Trades},
		barSize:     BarDaily,
		rthOnly:     true,
		duration:    "2 Y",
		description: "continuous futures, daily trade bars",
	}
	FX = &Profile{
		class:       domain.ClassFX,
		chain:       []string{Midpoint, Bid, Ask},
		barSize:     BarDaily,
		rthOnly:     false,
		duration:    "2 Y",
		description: "spot FX, daily midpoint with bid/ask fallback",
	}
	Bond = &Profile{
		class:       domain.ClassBond,
		chain:       []string{Midpoint, Bid, Ask},
		barSize:     BarDaily,
		rthOnly:     true,
		duration:    "2 Y",
		description: "bonds by con_id, daily midpoint with bid/ask fallback",
	}
	Option = &Profile{
		class:       domain.ClassOption,
		chain:       []string{Midpoint, Bid, Ask},
		barSize:     BarDaily,
		rthOnly:     true,
		duration:    "2 Y",
		description: "listed options, daily midpoint with bid/ask fallback",
	}
	Equity = &Profile{
		class:       domain.ClassEquity,
		chain:       []string{Trades, Midpoint},
		barSize:     BarDaily,
		rthOnly:     true,
		duration:    "2 Y",
		description: "stocks and ETFs, daily trade bars",
	}
)

var table = map[string]*Profile{
	string(domain.ClassFutures):      Futures,
	string(domain.ClassFuturesDaily): FuturesDaily,
	string(domain.ClassFX):           FX,
	string(domain.ClassBond):         Bond,
	string(domain.ClassOption):       Option,
	string(domain.ClassEquity):       Equity,
}

var aliases = map[string]string{
	"forex":       string(domain.ClassFX),
	"fx_artifact": string(domain.ClassFX),
}

// Lookup returns the profile registered for class, accepting aliases. Case
// and surrounding whitespace are ignored.
func Lookup(class string) (*Profile, bool) {
	k := strings.ToLower(strings.TrimSpace(class))
	if a, ok := aliases[k]; ok {
		k = a
	}
	p, ok := table[k]
	return p, ok
}

// All returns every registered profile ordered by class name.
func All() []*Profile {
	out := make([]*Profile, 0, len(table))
	for _, p := range table {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].class < out[j].class })
	return out
}
