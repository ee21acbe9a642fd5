// Package domain defines the core value types shared across ibkrfeed:
// instrument classes, time series, quote snapshots, and account state.
package domain

import "strings"

// InstrumentClass selects the contract resolution rules and fetch policy for
// a symbol.
type InstrumentClass string

const (
	ClassFutures      InstrumentClass = "futures"
	ClassFuturesDaily InstrumentClass = "futures_daily"
	ClassFX           InstrumentClass = "fx"
	ClassBond         InstrumentClass = "bond"
	ClassOption       InstrumentClass = "option"
	ClassEquity       InstrumentClass = "equity"
)

// RequestClasses lists the classes accepted on the public fetch surface.
var RequestClasses = []InstrumentClass{ClassFutures, ClassFX, ClassBond, ClassOption, ClassEquity}

// ParseClass accepts a request-surface class name (case-insensitive).
func ParseClass(s string) (InstrumentClass, bool) {
	c := InstrumentClass(strings.ToLower(strings.TrimSpace(s)))
	for _, rc := range RequestClasses {
		if rc == c {
			return c, true
		}
	}
	return "", false
}

// Right is an option right.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// ParseRight normalizes "C", "CALL", "P", "PUT" (any case). The second
// return is false for anything else.
func ParseRight(s string) (Right, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return RightCall, true
	case "P", "PUT":
		return RightPut, true
	}
	return "", false
}

// Snapshot is a one-shot quote for a single instrument. Pointer fields are
// nil when the gateway did not report a value before the wait elapsed.
type Snapshot struct {
	Symbol       string          `json:"symbol"`
	Class        InstrumentClass `json:"class,omitempty"`
	ConID        int64           `json:"con_id,omitempty"`
	Bid          *float64        `json:"bid,omitempty"`
	Ask          *float64        `json:"ask,omitempty"`
	Last         *float64        `json:"last,omitempty"`
	Mid          *float64        `json:"mid,omitempty"`
	Volume       *float64        `json:"volume,omitempty"`
	OpenInterest *float64        `json:"open_interest,omitempty"`
	ImpliedVol   *float64        `json:"implied_vol,omitempty"`
	Delta        *float64        `json:"delta,omitempty"`
	Gamma        *float64        `json:"gamma,omitempty"`
	Theta        *float64        `json:"theta,omitempty"`
	Vega         *float64        `json:"vega,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Position is a single holding reported by the gateway.
type Position struct {
	Account     string  `json:"account"`
	ConID       int64   `json:"con_id"`
	Symbol      string  `json:"symbol"`
	SecType     string  `json:"sec_type"`
	Currency    string  `json:"currency"`
	Quantity    float64 `json:"quantity"`
	AvgCost     float64 `json:"avg_cost"`
	MarketPrice float64 `json:"market_price"`
	MarketValue float64 `json:"market_value"`
}

// AccountSummary holds the USD-denominated headline values of an account,
// keyed by gateway tag (NetLiquidation, BuyingPower, ...).
type AccountSummary struct {
	Account  string             `json:"account"`
	Currency string             `json:"currency"`
	Values   map[string]float64 `json:"values"`
}

// ContractDetail describes a qualified instrument.
type ContractDetail struct {
	ConID      int64   `json:"con_id"`
	Symbol     string  `json:"symbol"`
	SecType    string  `json:"sec_type"`
	Exchange   string  `json:"exchange"`
	Currency   string  `json:"currency"`
	LongName   string  `json:"long_name,omitempty"`
	Expiry     string  `json:"expiry,omitempty"`
	Strike     float64 `json:"strike,omitempty"`
	Right      string  `json:"right,omitempty"`
	Multiplier string  `json:"multiplier,omitempty"`
}
