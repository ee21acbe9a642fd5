// Package gateway defines the boundary between ibkrfeed and the brokerage
// gateway process: session and dialer interfaces, the wire-level value
// types exchanged over a session, and the error taxonomy.
package gateway

import (
	"context"
	"time"
)

// Options identify and configure one gateway session.
type Options struct {
	Host     string
	Port     int
	ClientID int
	Timeout  time.Duration
	ReadOnly bool
	// Watch asks the session to monitor liveness and invoke its disconnect
	// hooks when the gateway drops it. Only the persistent session sets it.
	Watch bool
}

// Dialer opens gateway sessions.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Session, error)
}

// MarketSession is the subset of a session used for historical and
// snapshot requests.
type MarketSession interface {
	// Qualify resolves c to a fully identified contract (ConID set).
	Qualify(ctx context.Context, c Contract) (Contract, error)
	// HistoricalBars returns raw bars for a qualified contract.
	HistoricalBars(ctx context.Context, c Contract, req HistoryRequest) ([]Bar, error)
	// Quotes requests one non-streaming quote per contract and waits at most
	// wait for values to arrive. The result is index-aligned with cs.
	Quotes(ctx context.Context, cs []Contract, wait time.Duration) ([]Quote, error)
}

// Session is a live connection to the gateway.
type Session interface {
	MarketSession

	ManagedAccounts(ctx context.Context) ([]string, error)
	Positions(ctx context.Context, account string) ([]Position, error)
	AccountValues(ctx context.Context, account string) ([]AccountValue, error)
	ContractDetails(ctx context.Context, c Contract) ([]ContractDetails, error)

	// IsConnected reports whether the session is still usable.
	IsConnected() bool
	// OnDisconnect registers fn to run when the gateway drops the session.
	// The returned func removes the registration.
	OnDisconnect(fn func()) (remove func())
	// Close tears the session down. Registered hooks are not invoked.
	Close() error
}

// HistoryRequest parameterises a historical bar request.
type HistoryRequest struct {
	End        time.Time // zero means now
	Duration   string    // "N Y"
	BarSize    string    // "1 day", "1 month"
	WhatToShow string    // TRADES, MIDPOINT, BID, ASK
	UseRTH     bool
}

// Bar is a raw historical bar as delivered by the gateway.
type Bar struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Quote holds whatever fields the gateway reported for one contract before
// the wait elapsed. Nil means not observed.
type Quote struct {
	Bid              *float64
	Ask              *float64
	Last             *float64
	Volume           *float64
	CallVolume       *float64
	PutVolume        *float64
	CallOpenInterest *float64
	PutOpenInterest  *float64
	ImpliedVol       *float64
	Greeks           *Greeks
}

// Greeks are model option sensitivities.
type Greeks struct {
	ImpliedVol *float64
	Delta      *float64
	Gamma      *float64
	Theta      *float64
	Vega       *float64
}

// Observed reports whether any field was filled in.
func (q Quote) Observed() bool {
	if q.Greeks != nil {
		g := q.Greeks
		if g.ImpliedVol != nil || g.Delta != nil || g.Gamma != nil || g.Theta != nil || g.Vega != nil {
			return true
		}
	}
	for _, v := range []*float64{q.Bid, q.Ask, q.Last, q.Volume, q.CallVolume, q.PutVolume,
		q.CallOpenInterest, q.PutOpenInterest, q.ImpliedVol} {
		if v != nil {
			return true
		}
	}
	return false
}

// Position is a raw portfolio line.
type Position struct {
	Account     string
	Contract    Contract
	Quantity    float64
	AvgCost     float64
	MarketPrice float64
	MarketValue float64
}

// AccountValue is one tagged account summary value.
type AccountValue struct {
	Tag      string
	Value    string
	Currency string
}

// ContractDetails describes a qualified contract.
type ContractDetails struct {
	Contract Contract
	LongName string
	MinTick  float64
}
