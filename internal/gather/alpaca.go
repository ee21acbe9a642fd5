package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// AlpacaSource serves split- and dividend-adjusted daily closes for US
// equities from the Alpaca market-data API.
type AlpacaSource struct {
	client *marketdata.Client
	feed   string
	log    *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource. An empty dataURL selects the SDK
// default endpoint; an empty feed selects "iex".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string, log *slog.Logger) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		feed:   feed,
		log:    util.OrDefault(log).With("source", "alpaca"),
	}
}

// Name returns the source identifier.
func (a *AlpacaSource) Name() string { return "alpaca" }

// Supports reports true for equities only.
func (a *AlpacaSource) Supports(class domain.InstrumentClass) bool {
	return class == domain.ClassEquity
}

// DailyCloses fetches daily bars for symbol and returns their closes.
func (a *AlpacaSource) DailyCloses(ctx context.Context, symbol string, r DateRange) ([]domain.Point, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	start := time.Now()

	multiBars, err := a.client.GetMultiBars([]string{symbol}, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      domain.TruncateDay(r.Start),
		End:        domain.TruncateDay(r.End).Add(24*time.Hour - time.Second),
		Feed:       a.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars %s: %w", symbol, err)
	}

	pts := closes(multiBars[symbol])
	a.log.Debug("daily closes fetched", "symbol", symbol, "bars", len(pts), "elapsed", time.Since(start).Round(time.Millisecond))
	return pts, nil
}

func closes(bars []marketdata.Bar) []domain.Point {
	pts := make([]domain.Point, 0, len(bars))
	for _, b := range bars {
		pts = append(pts, domain.Point{Time: domain.TruncateDay(b.Timestamp), Value: b.Close})
	}
	return pts
}
