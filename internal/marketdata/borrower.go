// Package marketdata implements the historical and snapshot fetch engine:
// cache lookup, per-request gateway sessions, source-variant fallback,
// normalization and quote extraction.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/metrics"
	"ibkrfeed/internal/util"
)

// Borrower opens a dedicated read-only gateway session for a single request
// and always closes it afterwards. At most one borrowed session exists at a
// time.
type Borrower struct {
	dialer gateway.Dialer
	opts   gateway.Options
	pace   *util.RateLimiter
	sem    chan struct{}
	log    *slog.Logger
}

// NewBorrower creates a Borrower dialing with opts. Borrowed sessions are
// always read-only and never watched. A nil pace disables pacing.
func NewBorrower(dialer gateway.Dialer, opts gateway.Options, pace *util.RateLimiter, log *slog.Logger) *Borrower {
	opts.ReadOnly = true
	opts.Watch = false
	if pace == nil {
		pace = util.NewRateLimiter(0)
	}
	return &Borrower{
		dialer: dialer,
		opts:   opts,
		pace:   pace,
		sem:    make(chan struct{}, 1),
		log:    util.OrDefault(log).With("component", "borrower", "client_id", opts.ClientID),
	}
}

// With runs fn on a freshly dialed session. Dial failures are reported as
// gateway.ErrConnection; errors from fn are returned unchanged.
func (b *Borrower) With(ctx context.Context, fn func(gateway.MarketSession) error) error {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.sem }()

	if err := b.pace.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	sess, err := b.dialer.Dial(ctx, b.opts)
	if err != nil {
		metrics.SessionDuration.WithLabelValues("dial_error").Observe(time.Since(start).Seconds())
		if gateway.KindOf(err) == nil {
			err = gateway.Wrap(gateway.ErrConnection, "dial", err)
		}
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			b.log.Warn("closing borrowed session", "error", cerr)
		}
	}()

	err = fn(sess)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SessionDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}
