package cpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// watch monitors the session until it is closed or lost. It prefers the
// gateway websocket and falls back to polling /tickle when the websocket
// cannot be opened.
func (s *Session) watch() {
	conn, err := s.dialWebsocket()
	if err != nil {
		s.log.Debug("websocket unavailable, polling tickle", "error", err)
		s.pollTickle()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.closer = conn
	s.mu.Unlock()

	go s.keepAlive(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.lost(err)
			return
		}
	}
}

func (s *Session) dialWebsocket() (*websocket.Conn, error) {
	u := s.base + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.Timeout,
		TLSClientConfig:  s.tlsConf,
	}
	conn, resp, err := dialer.Dial(u, map[string][]string{"User-Agent": {s.agent}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// keepAlive sends the gateway's "tic" heartbeat. Write failures surface
// through the read loop.
func (s *Session) keepAlive(conn *websocket.Conn) {
	t := time.NewTicker(s.tickleInterval())
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.Timeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("tic")); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *Session) pollTickle() {
	t := time.NewTicker(s.tickleInterval())
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if err := s.tickle(); err != nil {
				s.lost(err)
				return
			}
		}
	}
}

// tickle keeps the brokerage session alive and reports whether it is still
// authenticated.
func (s *Session) tickle() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	body, err := s.post(ctx, "/tickle", struct{}{})
	if err != nil {
		return err
	}
	st := gjson.GetBytes(body, "iserver.authStatus")
	if st.Exists() && (!st.Get("authenticated").Bool() || !st.Get("connected").Bool()) {
		return errors.New("brokerage session no longer authenticated")
	}
	return nil
}

func (s *Session) tickleInterval() time.Duration {
	if s.d.TickleInterval > 0 {
		return s.d.TickleInterval
	}
	return defaultTickleInterval
}
