package marketdata

import (
	"context"
	"strings"
	"time"

	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/profile"
)

// DefaultSnapshotWait bounds how long a snapshot waits for quotes.
const DefaultSnapshotWait = 5 * time.Second

// Instrument identifies one snapshot target.
type Instrument struct {
	Symbol string
	Class  domain.InstrumentClass
	Hint   *contracts.Hint
}

// SnapshotRequest is a batch of one-shot quote requests sharing one wait.
type SnapshotRequest struct {
	Instruments []Instrument
	Wait        time.Duration
}

// FetchSnapshots returns one snapshot per instrument, index-aligned with
// req.Instruments. Failures are reported per instrument in Snapshot.Error.
func (f *Fetcher) FetchSnapshots(ctx context.Context, req SnapshotRequest) []domain.Snapshot {
	wait := req.Wait
	if wait <= 0 {
		wait = DefaultSnapshotWait
	}

	out := make([]domain.Snapshot, len(req.Instruments))
	resolved := make([]gateway.Contract, len(req.Instruments))
	pending := make([]int, 0, len(req.Instruments))
	for i, in := range req.Instruments {
		sym := strings.ToUpper(strings.TrimSpace(in.Symbol))
		class := in.Class
		if p, ok := profile.Lookup(string(class)); ok {
			class = p.Class()
		}
		out[i] = domain.Snapshot{Symbol: sym, Class: class}
		c, err := f.resolver.Resolve(sym, class, in.Hint)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		resolved[i] = c
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out
	}

	err := f.borrower.With(ctx, func(sess gateway.MarketSession) error {
		qualified := make([]gateway.Contract, 0, len(pending))
		idx := make([]int, 0, len(pending))
		for _, i := range pending {
			q, err := sess.Qualify(ctx, resolved[i])
			if err != nil || !q.Qualified() {
				f.log.Warn("snapshot qualify failed", "symbol", out[i].Symbol, "error", err)
				out[i].Error = "unable to qualify contract"
				continue
			}
			out[i].ConID = q.ConID
			qualified = append(qualified, q)
			idx = append(idx, i)
		}
		if len(qualified) == 0 {
			return nil
		}

		quotes, err := sess.Quotes(ctx, qualified, wait)
		if err != nil {
			return gateway.Classify("snapshot", err)
		}
		for j, i := range idx {
			if j >= len(quotes) || !quotes[j].Observed() {
				out[i].Error = "timeout"
				continue
			}
			extract(&out[i], qualified[j], quotes[j])
		}
		return nil
	})
	if err != nil {
		f.log.Error("snapshot batch failed", "instruments", len(pending), "error", err)
		for _, i := range pending {
			if out[i].Error == "" && !observed(out[i]) {
				out[i].Error = err.Error()
			}
		}
	}
	return out
}

// extract copies quote fields into snap. Option volume and open interest
// follow the contract's right; implied volatility prefers the model greeks.
func extract(snap *domain.Snapshot, c gateway.Contract, q gateway.Quote) {
	snap.Bid = q.Bid
	snap.Ask = q.Ask
	snap.Last = q.Last
	snap.Volume = q.Volume
	if q.Bid != nil && q.Ask != nil && *q.Bid > 0 && *q.Ask > 0 {
		mid := (*q.Bid + *q.Ask) / 2
		snap.Mid = &mid
	}
	if !c.IsOption() {
		return
	}

	switch domain.Right(c.Right) {
	case domain.RightPut:
		snap.Volume = firstSet(q.PutVolume, q.Volume)
		snap.OpenInterest = q.PutOpenInterest
	case domain.RightCall:
		snap.Volume = firstSet(q.CallVolume, q.Volume)
		snap.OpenInterest = q.CallOpenInterest
	default:
		snap.Volume = firstSet(q.Volume, q.CallVolume, q.PutVolume)
		snap.OpenInterest = firstSet(q.CallOpenInterest, q.PutOpenInterest)
	}

	snap.ImpliedVol = q.ImpliedVol
	if g := q.Greeks; g != nil {
		snap.ImpliedVol = firstSet(g.ImpliedVol, q.ImpliedVol)
		snap.Delta = g.Delta
		snap.Gamma = g.Gamma
		snap.Theta = g.Theta
		snap.Vega = g.Vega
	}
}

func firstSet(vs ...*float64) *float64 {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func observed(s domain.Snapshot) bool {
	return s.Bid != nil || s.Ask != nil || s.Last != nil || s.Volume != nil
}
