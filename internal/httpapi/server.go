package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ibkrfeed/internal/broker"
	"ibkrfeed/internal/connection"
	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/marketdata"
	"ibkrfeed/internal/metrics"
	"ibkrfeed/internal/profile"
	"ibkrfeed/internal/store"
	"ibkrfeed/internal/util"
)

// defaultWindow is the lookback applied when start is omitted.
const defaultWindow = 730 * 24 * time.Hour

// maxSnapshotInstruments bounds one snapshot batch.
const maxSnapshotInstruments = 100

// Fetcher is the market-data engine used by the API.
type Fetcher interface {
	FetchSeries(ctx context.Context, req marketdata.Request) domain.Series
	FetchMonthlyClose(ctx context.Context, class domain.InstrumentClass, symbol string, start, end time.Time, hint *contracts.Hint) (domain.Series, error)
	FetchSnapshots(ctx context.Context, req marketdata.SnapshotRequest) []domain.Snapshot
}

// CacheAdmin exposes cache diagnostics and maintenance.
type CacheAdmin interface {
	Stats() (store.Stats, error)
	Clear(olderThanHours float64) (store.ClearResult, error)
}

// StateReporter reports the persistent session state.
type StateReporter interface {
	State() connection.State
}

// Server serves the REST API.
type Server struct {
	fetcher Fetcher
	broker  broker.Broker
	cache   CacheAdmin
	conn    StateReporter
	log     *slog.Logger
	now     func() time.Time
}

// NewServer creates a Server. conn may be nil when no persistent session
// is configured.
func NewServer(fetcher Fetcher, b broker.Broker, cache CacheAdmin, conn StateReporter, log *slog.Logger) *Server {
	return &Server{
		fetcher: fetcher,
		broker:  b,
		cache:   cache,
		conn:    conn,
		log:     util.OrDefault(log).With("component", "httpapi"),
		now:     time.Now,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.InstrumentHandler(pattern, h))
	}
	route("GET /api/series", s.handleSeries)
	route("GET /api/monthly/{class}", s.handleMonthly)
	route("POST /api/snapshot", s.handleSnapshot)
	route("GET /api/accounts", s.handleAccounts)
	route("GET /api/positions", s.handlePositions)
	route("GET /api/account/summary", s.handleAccountSummary)
	route("GET /api/contract", s.handleContract)
	route("GET /api/cache/stats", s.handleCacheStats)
	route("DELETE /api/cache", s.handleCacheClear)
	route("GET /api/profiles", s.handleProfiles)
	route("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns an http.Handler with request-id and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.requestID(corsMiddleware(mux))
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).Round(time.Millisecond))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeGatewayError maps the error taxonomy onto HTTP status codes.
func writeGatewayError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch gateway.KindOf(err) {
	case gateway.ErrAccount:
		status = http.StatusBadRequest
	case gateway.ErrContract:
		status = http.StatusNotFound
	case gateway.ErrConnection:
		status = http.StatusServiceUnavailable
	case gateway.ErrTimeout:
		status = http.StatusGatewayTimeout
	case gateway.ErrEntitlement:
		status = http.StatusForbidden
	}
	writeError(w, status, err.Error())
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	class, ok := domain.ParseClass(q.Get("class"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid class %q", q.Get("class")))
		return
	}
	symbols, start, end, hint, err := s.parseFetchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := SeriesResponse{Class: string(class), Start: start.Format(dateLayout), End: end.Format(dateLayout), Series: []SeriesJSON{}}
	for _, sym := range symbols {
		series := s.fetcher.FetchSeries(r.Context(), marketdata.Request{
			Symbol:  sym,
			Class:   class,
			Start:   start,
			End:     end,
			Variant: q.Get("variant"),
			Hint:    hint,
		})
		resp.Series = append(resp.Series, seriesJSON(sym, series))
	}
	writeJSON(w, resp)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	class, ok := domain.ParseClass(r.PathValue("class"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid class %q", r.PathValue("class")))
		return
	}
	symbols, start, end, hint, err := s.parseFetchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := SeriesResponse{Class: string(class), Start: start.Format(dateLayout), End: end.Format(dateLayout), Series: []SeriesJSON{}}
	for _, sym := range symbols {
		series, err := s.fetcher.FetchMonthlyClose(r.Context(), class, sym, start, end, hint)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		resp.Series = append(resp.Series, seriesJSON(sym, series))
	}
	writeJSON(w, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var body SnapshotRequestJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(body.Instruments) == 0 {
		writeError(w, http.StatusBadRequest, "instruments is required")
		return
	}
	if len(body.Instruments) > maxSnapshotInstruments {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d instruments per request", maxSnapshotInstruments))
		return
	}
	if body.TimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "timeout_seconds must be >= 0")
		return
	}

	req := marketdata.SnapshotRequest{Wait: time.Duration(body.TimeoutSeconds * float64(time.Second))}
	for i, in := range body.Instruments {
		hint, err := contracts.ParseHint(string(in.Hint))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("instruments[%d].hint: %v", i, err))
			return
		}
		req.Instruments = append(req.Instruments, marketdata.Instrument{
			Symbol: in.Symbol,
			Class:  domain.InstrumentClass(strings.ToLower(strings.TrimSpace(in.Class))),
			Hint:   hint,
		})
	}
	writeJSON(w, SnapshotResponseJSON{Snapshots: s.fetcher.FetchSnapshots(r.Context(), req)})
}

// parseFetchParams reads symbols, start, end and hint. End defaults to
// today and start to 730 days before end.
func (s *Server) parseFetchParams(r *http.Request) ([]string, time.Time, time.Time, *contracts.Hint, error) {
	q := r.URL.Query()
	var symbols []string
	for _, part := range strings.Split(q.Get("symbols"), ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return nil, time.Time{}, time.Time{}, nil, errors.New("symbols is required")
	}

	end := domain.TruncateDay(s.now())
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, time.Time{}, time.Time{}, nil, fmt.Errorf("invalid end %q: want YYYY-MM-DD", v)
		}
		end = t
	}
	start := end.Add(-defaultWindow)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, time.Time{}, time.Time{}, nil, fmt.Errorf("invalid start %q: want YYYY-MM-DD", v)
		}
		start = t
	}

	hint, err := contracts.ParseHint(q.Get("hint"))
	if err != nil {
		return nil, time.Time{}, time.Time{}, nil, fmt.Errorf("invalid hint: %w", err)
	}
	return symbols, start, end, hint, nil
}

// ---------------------------------------------------------------------------
// Accounts and contracts
// ---------------------------------------------------------------------------

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.broker.ManagedAccounts(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if accts == nil {
		accts = []string{}
	}
	writeJSON(w, map[string]any{"accounts": accts, "broker": s.broker.Name()})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	pos, err := s.broker.Positions(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pos == nil {
		pos = []domain.Position{}
	}
	writeJSON(w, map[string]any{"positions": pos})
}

func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.broker.AccountSummary(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	class := domain.InstrumentClass(strings.ToLower(strings.TrimSpace(q.Get("class"))))
	if p, ok := profile.Lookup(string(class)); ok {
		class = p.Class()
	} else {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid class %q", q.Get("class")))
		return
	}
	hint, err := contracts.ParseHint(q.Get("hint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hint: "+err.Error())
		return
	}

	details, err := s.broker.ContractDetails(r.Context(), symbol, class, hint)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, map[string]any{"contracts": details})
}

// ---------------------------------------------------------------------------
// Cache and status
// ---------------------------------------------------------------------------

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	st, err := s.cache.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	hours := 0.0
	if v := r.URL.Query().Get("older_than_hours"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid older_than_hours %q", v))
			return
		}
		hours = h
	}
	res, err := s.cache.Clear(hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	all := profile.All()
	out := make([]ProfileJSON, 0, len(all))
	for _, p := range all {
		out = append(out, profileJSON(p))
	}
	writeJSON(w, map[string]any{"profiles": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := "unmanaged"
	if s.conn != nil {
		state = s.conn.State().String()
	}
	writeJSON(w, HealthJSON{Status: "ok", Connection: state, Time: formatTime(s.now())})
}
