package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/gather"
	"ibkrfeed/internal/metrics"
	"ibkrfeed/internal/profile"
	"ibkrfeed/internal/store"
	"ibkrfeed/internal/util"
)

// Resolver maps a symbol and class to a gateway contract descriptor.
type Resolver interface {
	Resolve(symbol string, class domain.InstrumentClass, hint *contracts.Hint) (gateway.Contract, error)
}

// Request describes one series fetch. Profile and Variant are optional
// overrides; Hint carries identity fields for bonds and options.
type Request struct {
	Symbol  string
	Class   domain.InstrumentClass
	Start   time.Time
	End     time.Time
	Profile *profile.Profile
	Variant string
	Hint    *contracts.Hint
}

// Fetcher serves close-price series from the disk cache, the gateway and
// any configured secondary sources, in that order.
type Fetcher struct {
	cache     store.SeriesCache
	resolver  Resolver
	borrower  *Borrower
	secondary []gather.Source
	log       *slog.Logger
	now       func() time.Time
}

// NewFetcher creates a Fetcher. Secondary sources are consulted in the
// order given.
func NewFetcher(cache store.SeriesCache, resolver Resolver, borrower *Borrower, log *slog.Logger, secondary ...gather.Source) *Fetcher {
	return &Fetcher{
		cache:     cache,
		resolver:  resolver,
		borrower:  borrower,
		secondary: secondary,
		log:       util.OrDefault(log).With("component", "fetcher"),
		now:       time.Now,
	}
}

// candidate is one entry of the fetch chain: a gateway variant or a
// secondary source.
type candidate struct {
	variant string
	source  gather.Source
}

// FetchSeries returns the close series for req. It never fails: invalid
// input, unresolvable instruments and exhausted chains all yield an empty
// series.
func (f *Fetcher) FetchSeries(ctx context.Context, req Request) domain.Series {
	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if sym == "" {
		f.log.Debug("empty symbol")
		return domain.Series{}
	}
	if !validRange(req.Start, req.End) {
		f.log.Debug("invalid date range", "symbol", sym, "start", req.Start, "end", req.End)
		return domain.Series{Name: sym}
	}

	prof := req.Profile
	if prof == nil {
		p, ok := profile.Lookup(string(req.Class))
		if !ok {
			f.log.Warn("no profile for instrument class", "symbol", sym, "class", req.Class)
			f.outcome(req.Class, "no_profile")
			return domain.Series{Name: sym}
		}
		prof = p
	}
	// Aliases and case variants resolve to the profile's canonical class,
	// which keys the cache and drives contract resolution.
	class := prof.Class()
	log := f.log.With("symbol", sym, "class", class)

	chain := prof.Variants()
	if req.Variant != "" {
		chain = []string{strings.ToUpper(strings.TrimSpace(req.Variant))}
	}
	if len(chain) == 0 {
		log.Warn("empty variant chain")
		f.outcome(class, "empty_chain")
		return domain.Series{Name: sym}
	}

	contract, err := f.resolver.Resolve(sym, class, req.Hint)
	if err != nil {
		log.Warn("contract resolution failed", "error", err)
		f.outcome(class, "contract_error")
		return domain.Series{Name: sym}
	}

	cands := make([]candidate, 0, len(chain)+len(f.secondary))
	for _, v := range chain {
		cands = append(cands, candidate{variant: v})
	}
	if req.Variant == "" {
		for _, src := range f.secondary {
			if src.Supports(class) {
				cands = append(cands, candidate{variant: strings.ToUpper(src.Name()), source: src})
			}
		}
	}

	key := func(variant string) store.Key {
		return store.Key{
			Symbol:  sym,
			Class:   string(class),
			Variant: variant,
			BarSize: prof.BarSize(),
			RTH:     prof.RTHOnly(),
			Start:   req.Start,
			End:     req.End,
		}
	}

	for _, c := range cands {
		if s, ok := f.cache.Get(key(c.variant)); ok {
			log.Debug("cache hit", "variant", c.variant, "points", s.Len())
			f.outcome(class, "cache_hit")
			return s.WithName(sym)
		}
	}

	connLost := false
live:
	for _, c := range cands {
		if c.source != nil {
			continue
		}
		s, err := f.fetchVariant(ctx, contract, prof, c.variant, sym, req.Start, req.End)
		if err == nil {
			metrics.VariantAttempts.WithLabelValues(c.variant, "ok").Inc()
			f.store(log, key(c.variant), s)
			log.Info("series fetched", "variant", c.variant, "points", s.Len())
			f.outcome(class, "live")
			return s
		}

		kind := gateway.KindOf(err)
		metrics.VariantAttempts.WithLabelValues(c.variant, resultLabel(kind)).Inc()
		switch {
		case ctx.Err() != nil:
			log.Info("fetch cancelled", "variant", c.variant, "error", err)
			f.outcome(class, "cancelled")
			return domain.Series{Name: sym}
		case kind == gateway.ErrContract:
			log.Warn("contract rejected, aborting chain", "variant", c.variant, "error", err)
			f.outcome(class, "contract_error")
			return domain.Series{Name: sym}
		case kind == gateway.ErrConnection || kind == gateway.ErrTimeout:
			log.Error("gateway unavailable, aborting chain", "variant", c.variant, "error", err)
			connLost = true
			break live
		case kind == gateway.ErrEntitlement:
			log.Warn("no entitlement for variant, trying next", "variant", c.variant, "error", err)
		case kind == gateway.ErrNoData:
			log.Info("no data for variant, trying next", "variant", c.variant)
		default:
			log.Warn("variant failed, trying next", "variant", c.variant, "error", err)
		}
	}

	for _, c := range cands {
		if c.source == nil {
			continue
		}
		pts, err := c.source.DailyCloses(ctx, sym, gather.DateRange{Start: req.Start, End: req.End})
		if err != nil {
			metrics.VariantAttempts.WithLabelValues(c.variant, "error").Inc()
			log.Warn("secondary source failed", "source", c.source.Name(), "error", err)
			continue
		}
		s := normalizePoints(sym, pts, prof, req.Start, req.End)
		if s.Empty() {
			metrics.VariantAttempts.WithLabelValues(c.variant, "no_data").Inc()
			continue
		}
		metrics.VariantAttempts.WithLabelValues(c.variant, "ok").Inc()
		f.store(log, key(c.variant), s)
		log.Info("series fetched from secondary source", "source", c.source.Name(), "points", s.Len(), "gateway_down", connLost)
		f.outcome(class, "secondary")
		return s
	}

	if connLost {
		f.outcome(class, "connection_error")
	} else {
		f.outcome(class, "exhausted")
	}
	log.Warn("no data from any source", "chain", chain)
	return domain.Series{Name: sym}
}

// fetchVariant runs one live attempt on a borrowed session. An empty
// normalized result is reported as gateway.ErrNoData.
func (f *Fetcher) fetchVariant(ctx context.Context, c gateway.Contract, p *profile.Profile, variant, name string, start, end time.Time) (domain.Series, error) {
	var out domain.Series
	err := f.borrower.With(ctx, func(sess gateway.MarketSession) error {
		q, err := sess.Qualify(ctx, c)
		if err != nil {
			// Only a recognised contract rejection aborts the chain; other
			// qualify failures advance like any variant error.
			return gateway.Classify("qualify", err)
		}
		if !q.Qualified() {
			return gateway.Errorf(gateway.ErrContract, "qualify", "unable to qualify %s", c)
		}

		req := historyRequest(p, variant, start, end, f.now())
		bars, err := sess.HistoricalBars(ctx, q, req)
		if err != nil {
			return gateway.Classify("historical "+variant, err)
		}
		out = Normalize(name, bars, p, start, end)
		if out.Empty() {
			return gateway.Errorf(gateway.ErrNoData, "historical "+variant, "%d raw bars, none in window", len(bars))
		}
		return nil
	})
	return out, err
}

func (f *Fetcher) store(log *slog.Logger, k store.Key, s domain.Series) {
	if _, err := f.cache.Put(k, s); err != nil {
		log.Warn("cache write failed", "variant", k.Variant, "error", err)
	}
}

func (f *Fetcher) outcome(class domain.InstrumentClass, outcome string) {
	metrics.FetchOutcomes.WithLabelValues(string(class), outcome).Inc()
}

func validRange(start, end time.Time) bool {
	if start.IsZero() || end.IsZero() {
		return false
	}
	return !domain.TruncateDay(end).Before(domain.TruncateDay(start))
}

func resultLabel(kind error) string {
	switch kind {
	case gateway.ErrNoData:
		return "no_data"
	case gateway.ErrEntitlement:
		return "entitlement"
	case gateway.ErrContract:
		return "contract"
	case gateway.ErrConnection:
		return "connection"
	case gateway.ErrTimeout:
		return "timeout"
	}
	return "error"
}
