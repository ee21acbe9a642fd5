package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/gateway/gatewaytest"
)

func newTestManager(d *gatewaytest.Dialer) *Manager {
	return NewManager(d, Options{
		Gateway:     gateway.Options{Host: "127.0.0.1", Port: 7496, ClientID: 1, Timeout: time.Second, ReadOnly: true},
		BaseDelay:   time.Millisecond,
		MaxAttempts: 3,
	}, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &gatewaytest.Dialer{Accounts: []string{"U1"}}
	m := newTestManager(d)
	defer m.Close()

	s1, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	s2, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}
	if s1 != s2 {
		t.Error("second Connect() returned a different session")
	}
	if d.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", d.Dials())
	}
	if m.State() != Connected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if got := m.Accounts(); len(got) != 1 || got[0] != "U1" {
		t.Errorf("Accounts() = %v, want [U1]", got)
	}
	if !d.Options()[0].Watch {
		t.Error("persistent session dialed without Watch")
	}
}

func TestEnsureConnectedReusesLiveSession(t *testing.T) {
	d := &gatewaytest.Dialer{}
	m := newTestManager(d)
	defer m.Close()

	for i := 0; i < 3; i++ {
		if _, err := m.EnsureConnected(context.Background()); err != nil {
			t.Fatalf("EnsureConnected() error: %v", err)
		}
	}
	if d.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", d.Dials())
	}
}

func TestConnectFailure(t *testing.T) {
	d := &gatewaytest.Dialer{Fail: func(int) error { return errors.New("connection refused") }}
	m := newTestManager(d)
	defer m.Close()

	_, err := m.Connect(context.Background())
	if !errors.Is(err, gateway.ErrConnection) {
		t.Fatalf("Connect() error = %v, want ErrConnection", err)
	}
	if m.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestConnectFailureAfterDialUnregistersHook(t *testing.T) {
	d := &gatewaytest.Dialer{AccountsErr: errors.New("not ready")}
	m := newTestManager(d)
	defer m.Close()

	if _, err := m.Connect(context.Background()); !errors.Is(err, gateway.ErrConnection) {
		t.Fatalf("Connect() error = %v, want ErrConnection", err)
	}
	s := d.Last()
	if s.Hooks() != 0 {
		t.Errorf("Hooks() = %d after failed connect, want 0", s.Hooks())
	}
	if !s.Closed() {
		t.Error("partial session not closed")
	}
	if m.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestDisconnect(t *testing.T) {
	d := &gatewaytest.Dialer{Accounts: []string{"U1"}}
	m := newTestManager(d)
	defer m.Close()

	m.Disconnect() // no-op while disconnected

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := d.Last()
	m.Disconnect()

	if !s.Closed() || s.Hooks() != 0 {
		t.Errorf("after Disconnect: closed=%v hooks=%d, want true/0", s.Closed(), s.Hooks())
	}
	if m.State() != Disconnected || len(m.Accounts()) != 0 {
		t.Errorf("after Disconnect: state=%v accounts=%v", m.State(), m.Accounts())
	}

	// A late drop notification must not trigger a reconnect.
	s.Drop()
	time.Sleep(20 * time.Millisecond)
	if d.Dials() != 1 {
		t.Errorf("Dials() = %d after manual disconnect, want 1", d.Dials())
	}
}

func TestUnsolicitedDisconnectReconnects(t *testing.T) {
	d := &gatewaytest.Dialer{
		Accounts: []string{"U1"},
		Fail: func(attempt int) error {
			if attempt == 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	m := newTestManager(d)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := d.Last()
	first.Drop()

	waitFor(t, "reconnect", func() bool { return d.Dials() == 3 && m.State() == Connected })

	if first.Hooks() != 0 {
		t.Errorf("dropped session still has %d hooks", first.Hooks())
	}
	if second := d.Last(); second == first || second.Hooks() != 1 {
		t.Error("new session missing its disconnect hook")
	}
	if got := m.Accounts(); len(got) != 1 {
		t.Errorf("Accounts() = %v after reconnect", got)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	d := &gatewaytest.Dialer{
		Fail: func(attempt int) error {
			if attempt > 1 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	m := newTestManager(d)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.Last().Drop()

	waitFor(t, "reconnect loop to finish", func() bool { return d.Dials() == 4 && m.State() == Disconnected })

	time.Sleep(30 * time.Millisecond)
	if d.Dials() != 4 {
		t.Errorf("Dials() = %d, want exactly 1 initial + 3 reconnect attempts", d.Dials())
	}
	if m.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestSingleReconnectLoop(t *testing.T) {
	d := &gatewaytest.Dialer{}
	m := NewManager(d, Options{BaseDelay: 20 * time.Millisecond, MaxAttempts: 3}, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := d.Last()
	// Both notifications race for the same session; only one loop may start.
	go s.Drop()
	s.Drop()

	waitFor(t, "reconnect", func() bool { return m.State() == Connected && d.Dials() >= 2 })
	time.Sleep(60 * time.Millisecond)
	if d.Dials() != 2 {
		t.Errorf("Dials() = %d, want 2", d.Dials())
	}
}

func TestDisconnectStopsReconnectLoop(t *testing.T) {
	d := &gatewaytest.Dialer{}
	m := NewManager(d, Options{BaseDelay: time.Hour, MaxAttempts: 3}, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.Last().Drop()
	waitFor(t, "reconnecting", func() bool { return m.State() == Reconnecting })

	m.Disconnect()
	waitFor(t, "loop exit", func() bool { return m.State() == Disconnected })
	if d.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", d.Dials())
	}
}

// onMessage runs fn synchronously the first time a record with msg is
// logged, which lets tests act at a precise point of a background loop.
type onMessage struct {
	msg  string
	once sync.Once
	fn   func()
}

func (h *onMessage) Enabled(context.Context, slog.Level) bool { return true }
func (h *onMessage) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *onMessage) WithGroup(string) slog.Handler             { return h }

func (h *onMessage) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.once.Do(h.fn)
	}
	return nil
}

func TestDisconnectAfterReconnectSuppressesRestart(t *testing.T) {
	d := &gatewaytest.Dialer{}
	var m *Manager
	hook := &onMessage{msg: "reconnected", fn: func() { m.Disconnect() }}
	m = NewManager(d, Options{BaseDelay: time.Millisecond, MaxAttempts: 3}, slog.New(hook))
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.Last().Drop()

	waitFor(t, "reconnect and manual disconnect", func() bool { return d.Dials() == 2 && m.State() == Disconnected })
	time.Sleep(50 * time.Millisecond)
	if d.Dials() != 2 {
		t.Errorf("Dials() = %d after manual disconnect, want 2", d.Dials())
	}
	if m.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestSubscribe(t *testing.T) {
	d := &gatewaytest.Dialer{}
	m := newTestManager(d)
	defer m.Close()

	id, ch := m.Subscribe()
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	var got []State
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case s := <-ch:
			got = append(got, s)
		case <-timeout:
			t.Fatalf("received %v, want [connecting connected]", got)
		}
	}
	if got[0] != Connecting || got[1] != Connected {
		t.Errorf("states = %v, want [connecting connected]", got)
	}

	m.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Disconnected: "disconnected", Connecting: "connecting",
		Connected: "connected", Reconnecting: "reconnecting", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
