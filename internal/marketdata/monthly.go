package marketdata

import (
	"context"
	"time"

	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/profile"
)

// monthly fetches with a fixed profile and re-derives month-end closes
// regardless of the profile's bar size.
func (f *Fetcher) monthly(ctx context.Context, p *profile.Profile, symbol string, start, end time.Time, hint *contracts.Hint) domain.Series {
	s := f.FetchSeries(ctx, Request{
		Symbol:  symbol,
		Class:   p.Class(),
		Start:   start,
		End:     end,
		Profile: p,
		Hint:    hint,
	})
	return ToMonthlyClose(s, start, end)
}

// FetchMonthlyCloseFutures returns month-end closes of the continuous future.
func (f *Fetcher) FetchMonthlyCloseFutures(ctx context.Context, symbol string, start, end time.Time) domain.Series {
	return f.monthly(ctx, profile.Futures, symbol, start, end, nil)
}

// FetchDailyCloseFutures returns daily closes of the continuous future.
func (f *Fetcher) FetchDailyCloseFutures(ctx context.Context, symbol string, start, end time.Time) domain.Series {
	return f.FetchSeries(ctx, Request{
		Symbol:  symbol,
		Class:   domain.ClassFuturesDaily,
		Start:   start,
		End:     end,
		Profile: profile.FuturesDaily,
	})
}

// FetchMonthlyCloseFX returns month-end closes of an FX pair.
func (f *Fetcher) FetchMonthlyCloseFX(ctx context.Context, pair string, start, end time.Time) domain.Series {
	return f.monthly(ctx, profile.FX, pair, start, end, nil)
}

// FetchMonthlyCloseBond returns month-end closes of a bond; hint must carry
// its con_id.
func (f *Fetcher) FetchMonthlyCloseBond(ctx context.Context, symbol string, start, end time.Time, hint *contracts.Hint) domain.Series {
	return f.monthly(ctx, profile.Bond, symbol, start, end, hint)
}

// FetchMonthlyCloseOption returns month-end closes of a listed option.
func (f *Fetcher) FetchMonthlyCloseOption(ctx context.Context, symbol string, start, end time.Time, hint *contracts.Hint) domain.Series {
	return f.monthly(ctx, profile.Option, symbol, start, end, hint)
}

// FetchMonthlyCloseEquity returns month-end closes of a stock or ETF.
func (f *Fetcher) FetchMonthlyCloseEquity(ctx context.Context, symbol string, start, end time.Time) domain.Series {
	return f.monthly(ctx, profile.Equity, symbol, start, end, nil)
}

// FetchMonthlyClose dispatches to the per-class monthly helper.
func (f *Fetcher) FetchMonthlyClose(ctx context.Context, class domain.InstrumentClass, symbol string, start, end time.Time, hint *contracts.Hint) (domain.Series, error) {
	switch class {
	case domain.ClassFutures:
		return f.FetchMonthlyCloseFutures(ctx, symbol, start, end), nil
	case domain.ClassFX:
		return f.FetchMonthlyCloseFX(ctx, symbol, start, end), nil
	case domain.ClassBond:
		return f.FetchMonthlyCloseBond(ctx, symbol, start, end, hint), nil
	case domain.ClassOption:
		return f.FetchMonthlyCloseOption(ctx, symbol, start, end, hint), nil
	case domain.ClassEquity:
		return f.FetchMonthlyCloseEquity(ctx, symbol, start, end), nil
	}
	return domain.Series{}, gateway.Errorf(gateway.ErrContract, "monthly", "instrument class %q not supported", class)
}
