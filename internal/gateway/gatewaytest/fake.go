// Package gatewaytest provides a scriptable in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"sync"
	"time"

	"ibkrfeed/internal/gateway"
)

var _ gateway.Dialer = (*Dialer)(nil)
var _ gateway.Session = (*Session)(nil)

// Dialer hands out fake sessions whose behaviour is driven by its exported
// fields. Set fields before use; counters are safe for concurrent reads.
type Dialer struct {
	// Fail, when set, is consulted on every dial (1-based attempt number);
	// a non-nil result fails that dial.
	Fail func(attempt int) error

	Accounts    []string
	AccountsErr error
	Positions   []gateway.Position
	Values      []gateway.AccountValue
	Details     []gateway.ContractDetails
	Bars        map[string][]gateway.Bar // by WhatToShow
	BarErrs     map[string]error         // by WhatToShow
	QualifyErr  error
	QuoteFor    func(c gateway.Contract) gateway.Quote
	// HoldBars delays every HistoricalBars call.
	HoldBars time.Duration

	mu       sync.Mutex
	dials    int
	open     int
	maxOpen  int
	barCalls []string
	options  []gateway.Options
	sessions []*Session
}

// Dial implements gateway.Dialer.
func (d *Dialer) Dial(ctx context.Context, opts gateway.Options) (gateway.Session, error) {
	d.mu.Lock()
	d.dials++
	attempt := d.dials
	d.options = append(d.options, opts)
	fail := d.Fail
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		if err := fail(attempt); err != nil {
			return nil, err
		}
	}

	s := &Session{d: d, opts: opts, connected: true, hooks: make(map[int]func())}
	d.mu.Lock()
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Dials returns the number of Dial calls so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Open returns the number of sessions not yet closed.
func (d *Dialer) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// MaxOpen returns the peak number of simultaneously open sessions.
func (d *Dialer) MaxOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

// BarCalls returns the WhatToShow of every HistoricalBars call in order.
func (d *Dialer) BarCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.barCalls...)
}

// Options returns the options of every Dial call in order.
func (d *Dialer) Options() []gateway.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gateway.Options(nil), d.options...)
}

// Last returns the most recently created session, or nil.
func (d *Dialer) Last() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// Session is a fake gateway session.
type Session struct {
	d    *Dialer
	opts gateway.Options

	mu        sync.Mutex
	connected bool
	closed    bool
	hooks     map[int]func()
	nextHook  int
}

// Opts returns the options the session was dialed with.
func (s *Session) Opts() gateway.Options { return s.opts }

// Drop simulates the gateway dropping the session: it becomes disconnected
// and every registered hook runs.
func (s *Session) Drop() {
	s.mu.Lock()
	s.connected = false
	hooks := make([]func(), 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// Hooks returns the number of registered disconnect hooks.
func (s *Session) Hooks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Qualify(_ context.Context, c gateway.Contract) (gateway.Contract, error) {
	if err := s.check(); err != nil {
		return gateway.Contract{}, err
	}
	if s.d.QualifyErr != nil {
		return gateway.Contract{}, s.d.QualifyErr
	}
	if c.ConID == 0 {
		c.ConID = 1000
	}
	if c.SecType == gateway.SecContFuture {
		c.SecType = gateway.SecFuture
	}
	return c, nil
}

func (s *Session) HistoricalBars(ctx context.Context, _ gateway.Contract, req gateway.HistoryRequest) ([]gateway.Bar, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	s.d.barCalls = append(s.d.barCalls, req.WhatToShow)
	s.d.mu.Unlock()

	if s.d.HoldBars > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.d.HoldBars):
		}
	}
	if err := s.d.BarErrs[req.WhatToShow]; err != nil {
		return nil, err
	}
	return append([]gateway.Bar(nil), s.d.Bars[req.WhatToShow]...), nil
}

func (s *Session) Quotes(_ context.Context, cs []gateway.Contract, _ time.Duration) ([]gateway.Quote, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]gateway.Quote, len(cs))
	if s.d.QuoteFor != nil {
		for i, c := range cs {
			out[i] = s.d.QuoteFor(c)
		}
	}
	return out, nil
}

func (s *Session) ManagedAccounts(context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.d.AccountsErr != nil {
		return nil, s.d.AccountsErr
	}
	return append([]string(nil), s.d.Accounts...), nil
}

func (s *Session) Positions(_ context.Context, account string) ([]gateway.Position, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []gateway.Position
	for _, p := range s.d.Positions {
		if account == "" || p.Account == account {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Session) AccountValues(context.Context, string) ([]gateway.AccountValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]gateway.AccountValue(nil), s.d.Values...), nil
}

func (s *Session) ContractDetails(_ context.Context, c gateway.Contract) ([]gateway.ContractDetails, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.d.QualifyErr != nil {
		return nil, s.d.QualifyErr
	}
	if len(s.d.Details) == 0 {
		return []gateway.ContractDetails{{Contract: c}}, nil
	}
	return append([]gateway.ContractDetails(nil), s.d.Details...), nil
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *Session) OnDisconnect(fn func()) func() {
	s.mu.Lock()
	id := s.nextHook
	s.nextHook++
	s.hooks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	s.mu.Unlock()

	s.d.mu.Lock()
	s.d.open--
	s.d.mu.Unlock()
	return nil
}

func (s *Session) check() error {
	if !s.IsConnected() {
		return errors.New("not connected")
	}
	return nil
}
