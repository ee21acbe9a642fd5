// Package cpapi implements gateway.Dialer over the IBKR Client Portal web
// API: REST calls for requests and a websocket (or tickle polling) for
// liveness.
package cpapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/store"
	"ibkrfeed/internal/util"
)

const (
	apiPrefix = "/v1/api"

	defaultTimeout        = 10 * time.Second
	defaultRequestTimeout = 60 * time.Second
	defaultPollInterval   = 250 * time.Millisecond
	defaultTickleInterval = 55 * time.Second
	defaultContractMaxAge = 24 * time.Hour

	maxBody = 32 << 20
)

// Compile-time interface checks.
var (
	_ gateway.Dialer  = (*Dialer)(nil)
	_ gateway.Session = (*Session)(nil)
)

// Dialer opens Client Portal sessions.
type Dialer struct {
	// BaseURL is the gateway root (https://host:port). Empty derives it from
	// the dial options.
	BaseURL     string
	InsecureTLS bool

	// Contracts, when set, memoizes qualification across sessions.
	Contracts      store.ContractCache
	ContractMaxAge time.Duration

	PollInterval   time.Duration
	TickleInterval time.Duration

	Log *slog.Logger
}

// NewDialer creates a Dialer with default intervals.
func NewDialer(baseURL string, insecureTLS bool, contracts store.ContractCache, log *slog.Logger) *Dialer {
	return &Dialer{
		BaseURL:        baseURL,
		InsecureTLS:    insecureTLS,
		Contracts:      contracts,
		ContractMaxAge: defaultContractMaxAge,
		PollInterval:   defaultPollInterval,
		TickleInterval: defaultTickleInterval,
		Log:            log,
	}
}

// Dial verifies that the gateway is up and its brokerage session is
// authenticated, then returns a Session. With opts.Watch set the session
// monitors liveness in the background.
func (d *Dialer) Dial(ctx context.Context, opts gateway.Options) (gateway.Session, error) {
	base := strings.TrimRight(d.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s:%d", opts.Host, opts.Port)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	tlsConf := &tls.Config{InsecureSkipVerify: d.InsecureTLS} //nolint:gosec // the gateway serves a self-signed certificate
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConf

	s := &Session{
		d:       d,
		opts:    opts,
		root:    base,
		base:    base + apiPrefix,
		http:    &http.Client{Transport: transport, Timeout: defaultRequestTimeout},
		tlsConf: tlsConf,
		agent:   fmt.Sprintf("ibkrfeed/client-%d", opts.ClientID),
		hooks:   make(map[int]func()),
		stop:    make(chan struct{}),
		log:     util.OrDefault(d.Log).With("component", "cpapi", "client_id", opts.ClientID),
	}
	s.connected.Store(true)

	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	body, err := s.get(dctx, "/iserver/auth/status", nil)
	if err != nil {
		s.Close()
		if gateway.KindOf(err) != gateway.ErrConnection {
			err = gateway.Wrap(gateway.ErrConnection, "auth status", err)
		}
		return nil, err
	}
	st := gjson.ParseBytes(body)
	if !st.Get("authenticated").Bool() || !st.Get("connected").Bool() {
		s.Close()
		return nil, gateway.Errorf(gateway.ErrConnection, "auth status",
			"gateway session not authenticated (authenticated=%t connected=%t)",
			st.Get("authenticated").Bool(), st.Get("connected").Bool())
	}

	if opts.Watch {
		go s.watch()
	}
	s.log.Debug("session opened", "base", s.base, "read_only", opts.ReadOnly, "watch", opts.Watch)
	return s, nil
}

// Session is one Client Portal session. The REST API itself is stateless;
// the session tracks liveness and disconnect hooks.
type Session struct {
	d       *Dialer
	opts    gateway.Options
	root    string
	base    string
	http    *http.Client
	tlsConf *tls.Config
	agent   string
	log     *slog.Logger

	connected atomic.Bool

	mu       sync.Mutex
	closed   bool
	hooks    map[int]func()
	nextHook int
	stop     chan struct{}
	closer   io.Closer
}

// IsConnected reports whether the session is usable.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.connected.Load()
}

// OnDisconnect registers fn to run when liveness monitoring detects loss.
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

// Close stops liveness monitoring. It does not wait for the monitor to
// exit and never runs disconnect hooks.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected.Store(false)
	close(s.stop)
	c := s.closer
	s.closer = nil
	s.mu.Unlock()

	s.http.CloseIdleConnections()
	if c != nil {
		return c.Close()
	}
	return nil
}

// lost marks the session dead and runs the registered hooks once.
func (s *Session) lost(reason error) {
	s.mu.Lock()
	if s.closed || !s.connected.Load() {
		s.mu.Unlock()
		return
	}
	s.connected.Store(false)
	hooks := make([]func(), 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	s.mu.Unlock()

	s.log.Warn("gateway session lost", "error", reason)
	for _, h := range hooks {
		h()
	}
}

func (s *Session) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	return s.do(ctx, http.MethodGet, path, q, nil)
}

func (s *Session) post(ctx context.Context, path string, payload any) ([]byte, error) {
	return s.do(ctx, http.MethodPost, path, nil, payload)
}

// do performs one API call. Transport failures are connection errors,
// non-2xx responses are classified from the gateway's error text.
func (s *Session) do(ctx context.Context, method, path string, q url.Values, payload any) ([]byte, error) {
	op := strings.TrimPrefix(path, "/")
	if !s.IsConnected() {
		return nil, gateway.Errorf(gateway.ErrConnection, op, "not connected")
	}

	u := s.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("User-Agent", s.agent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gateway.Classify(op, ctx.Err())
		}
		return nil, gateway.Wrap(gateway.ErrConnection, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, gateway.Wrap(gateway.ErrConnection, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, gateway.Errorf(gateway.ErrConnection, op, "not authenticated")
	case resp.StatusCode >= 400:
		return nil, gateway.Classify(op, errors.New(errorText(resp.StatusCode, data)))
	}
	return data, nil
}

func errorText(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error").String(); msg != "" {
			return msg
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		text = http.StatusText(status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}
