// Package connection owns the persistent gateway session used for account
// and metadata calls, reconnecting automatically when the gateway drops it.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/metrics"
	"ibkrfeed/internal/util"
)

// State is the lifecycle state of the persistent session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Options configure a Manager.
type Options struct {
	Gateway gateway.Options
	// BaseDelay is the linear backoff unit: attempt n waits n*BaseDelay.
	BaseDelay   time.Duration
	MaxAttempts int
}

// Manager holds at most one persistent gateway session. All state changes
// happen under mu; the current state is mirrored in an atomic so readers
// never wait behind a dial.
type Manager struct {
	dialer gateway.Dialer
	opts   Options
	log    *slog.Logger

	mu           sync.Mutex
	session      gateway.Session
	removeHook   func()
	accounts     []string
	manual       bool
	reconnecting bool
	closed       bool
	loopCancel   context.CancelFunc

	state atomic.Int32

	subMu   sync.RWMutex
	subs    map[int]chan State
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a disconnected Manager. Zero MaxAttempts and BaseDelay
// default to 3 attempts of 5s linear backoff.
func NewManager(dialer gateway.Dialer, opts Options, log *slog.Logger) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 5 * time.Second
	}
	opts.Gateway.Watch = true

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer: dialer,
		opts:   opts,
		log:    util.OrDefault(log).With("component", "connection"),
		subs:   make(map[int]chan State),
		ctx:    ctx,
		cancel: cancel,
	}
	metrics.ConnectionState.Set(float64(Disconnected))
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Accounts returns the accounts visible on the current session, captured
// when it was established.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.accounts...)
}

// Connect establishes the persistent session if there is no live one and
// returns it. Failures carry gateway.ErrConnection.
func (m *Manager) Connect(ctx context.Context) (gateway.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// EnsureConnected returns the live session, connecting only when there is
// none. It is the entry point for consumers of the persistent session.
func (m *Manager) EnsureConnected(ctx context.Context) (gateway.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.IsConnected() {
		return m.session, nil
	}
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) (gateway.Session, error) {
	if m.closed {
		return nil, gateway.Errorf(gateway.ErrConnection, "connect", "manager closed")
	}
	if m.session != nil && m.session.IsConnected() {
		return m.session, nil
	}
	m.dropLocked()
	m.setState(Connecting)

	dctx := ctx
	if t := m.opts.Gateway.Timeout; t > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	g := m.opts.Gateway
	sess, err := m.dialer.Dial(dctx, g)
	if err != nil {
		m.setState(m.idleState())
		m.log.Warn("gateway connect failed", "host", g.Host, "port", g.Port, "client_id", g.ClientID, "error", err)
		return nil, gateway.Wrap(gateway.ErrConnection, "connect", err)
	}

	remove := sess.OnDisconnect(func() { m.handleDisconnect(sess) })
	accounts, err := sess.ManagedAccounts(dctx)
	if err != nil {
		remove()
		if cerr := sess.Close(); cerr != nil {
			m.log.Debug("closing partial session", "error", cerr)
		}
		m.setState(m.idleState())
		m.log.Warn("gateway connect failed", "stage", "accounts", "error", err)
		return nil, gateway.Wrap(gateway.ErrConnection, "connect", err)
	}

	m.session = sess
	m.removeHook = remove
	m.accounts = accounts
	m.setState(Connected)
	m.log.Info("gateway connected", "host", g.Host, "port", g.Port, "client_id", g.ClientID, "accounts", len(accounts))
	return sess, nil
}

// Disconnect tears down the session without triggering a reconnect and
// stops any reconnect loop in progress. It is a no-op when disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loopCancel != nil {
		m.loopCancel()
	}
	if m.session == nil {
		return
	}

	m.manual = true
	m.dropLocked()
	m.manual = false
	m.setState(m.idleState())
	m.log.Info("gateway disconnected")
}

// Close disconnects and waits for background work to finish. The Manager
// cannot be reused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.Disconnect()
	m.wg.Wait()
}

// dropLocked deregisters the disconnect hook, then closes and forgets the
// session.
func (m *Manager) dropLocked() {
	if m.removeHook != nil {
		m.removeHook()
		m.removeHook = nil
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.log.Debug("closing session", "error", err)
		}
		m.session = nil
	}
	m.accounts = nil
}

func (m *Manager) idleState() State {
	if m.reconnecting {
		return Reconnecting
	}
	return Disconnected
}

// handleDisconnect runs when the gateway drops sess.
func (m *Manager) handleDisconnect(sess gateway.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manual || m.session != sess {
		return
	}
	m.log.Warn("gateway session lost")
	m.dropLocked()

	if m.closed {
		m.setState(Disconnected)
		return
	}
	if m.reconnecting {
		m.setState(Reconnecting)
		return
	}
	m.startReconnectLocked()
}

func (m *Manager) startReconnectLocked() {
	m.reconnecting = true
	m.setState(Reconnecting)

	ctx, cancel := context.WithCancel(m.ctx)
	m.loopCancel = cancel
	m.wg.Add(1)
	go m.reconnectLoop(ctx, cancel)
}

// reconnectLoop makes up to MaxAttempts connect attempts with linear
// backoff, then exits whatever the outcome.
func (m *Manager) reconnectLoop(ctx context.Context, cancel context.CancelFunc) {
	defer m.wg.Done()
	defer cancel()

	err := util.Retry(ctx, m.opts.MaxAttempts, util.Linear(m.opts.BaseDelay), func(attempt int) error {
		m.log.Info("reconnect attempt", "attempt", attempt, "max", m.opts.MaxAttempts)
		_, err := m.Connect(ctx)
		if err != nil {
			metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
			return err
		}
		metrics.ReconnectAttempts.WithLabelValues("success").Inc()
		return nil
	})

	switch {
	case err == nil:
		m.log.Info("reconnected")
	case errors.Is(err, context.Canceled):
		m.log.Info("reconnect cancelled")
	default:
		m.log.Error("reconnect failed, giving up", "attempts", m.opts.MaxAttempts, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Disconnect cancels ctx under mu, so a manual disconnect that raced the
	// last attempt is visible here.
	stopped := ctx.Err() != nil
	m.reconnecting = false
	m.loopCancel = nil
	if m.session == nil {
		m.setState(Disconnected)
		// The session was lost again between a successful attempt and here.
		if err == nil && !stopped && !m.closed {
			m.startReconnectLocked()
		}
	}
}

// ---------------------------------------------------------------------------
// State subscriptions
// ---------------------------------------------------------------------------

// Subscribe returns an id and a channel receiving state changes. Slow
// subscribers miss updates rather than block the manager.
func (m *Manager) Subscribe() (int, <-chan State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 16)
	m.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the subscription with the given id.
func (m *Manager) Unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	metrics.ConnectionState.Set(float64(s))

	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
