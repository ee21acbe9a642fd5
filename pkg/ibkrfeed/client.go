// Package ibkrfeed is a Go client for the ibkrfeed-server REST API.
package ibkrfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Client provides a Go SDK for interacting with the ibkrfeed-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ibkrfeed API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ibkrfeed: HTTP %d: %s", e.Status, e.Message)
}

// Series is one symbol's closes keyed by ISO date.
type Series struct {
	Symbol string             `json:"symbol"`
	Bars   int                `json:"bars"`
	Start  string             `json:"start,omitempty"`
	End    string             `json:"end,omitempty"`
	Data   map[string]float64 `json:"data"`
}

// SeriesResponse is returned by Series and Monthly.
type SeriesResponse struct {
	Class  string   `json:"class"`
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Series []Series `json:"series"`
}

// SeriesQuery selects symbols and a date window. Zero Start or End leaves
// the server default in place.
type SeriesQuery struct {
	Symbols []string
	Class   string
	Start   time.Time
	End     time.Time
	Variant string
	Hint    map[string]any
}

// Instrument identifies one snapshot target.
type Instrument struct {
	Symbol string         `json:"symbol"`
	Class  string         `json:"class"`
	Hint   map[string]any `json:"hint,omitempty"`
}

// Snapshot is a point-in-time quote. Nil fields were not observed.
type Snapshot struct {
	Symbol       string   `json:"symbol"`
	Class        string   `json:"class,omitempty"`
	ConID        int64    `json:"con_id,omitempty"`
	Bid          *float64 `json:"bid,omitempty"`
	Ask          *float64 `json:"ask,omitempty"`
	Last         *float64 `json:"last,omitempty"`
	Mid          *float64 `json:"mid,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	OpenInterest *float64 `json:"open_interest,omitempty"`
	ImpliedVol   *float64 `json:"implied_vol,omitempty"`
	Delta        *float64 `json:"delta,omitempty"`
	Gamma        *float64 `json:"gamma,omitempty"`
	Theta        *float64 `json:"theta,omitempty"`
	Vega         *float64 `json:"vega,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// CacheStats summarises the server's series cache.
type CacheStats struct {
	FileCount    int        `json:"file_count"`
	TotalBytes   int64      `json:"total_bytes"`
	TotalMB      float64    `json:"total_mb"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
	CacheEnabled bool       `json:"cache_enabled"`
	Dir          string     `json:"cache_dir"`
}

// ClearResult reports what a cache clear removed.
type ClearResult struct {
	FilesRemoved int      `json:"files_removed"`
	BytesFreed   int64    `json:"bytes_freed"`
	MBFreed      float64  `json:"mb_freed"`
	Errors       []string `json:"errors"`
}

// Profile describes how one instrument class is fetched.
type Profile struct {
	Class       string   `json:"class"`
	Chain       []string `json:"chain"`
	BarSize     string   `json:"bar_size"`
	RTHOnly     bool     `json:"rth_only"`
	Duration    string   `json:"duration"`
	Description string   `json:"description"`
}

// Health is the server status.
type Health struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
	Time       string `json:"time"`
}

// Series fetches daily or profile-native closes.
func (c *Client) Series(ctx context.Context, q SeriesQuery) (*SeriesResponse, error) {
	v, err := q.values()
	if err != nil {
		return nil, err
	}
	v.Set("class", q.Class)
	var out SeriesResponse
	if err := c.do(ctx, http.MethodGet, "/api/series", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Monthly fetches month-end closes; q.Class selects the instrument class.
func (c *Client) Monthly(ctx context.Context, q SeriesQuery) (*SeriesResponse, error) {
	v, err := q.values()
	if err != nil {
		return nil, err
	}
	var out SeriesResponse
	if err := c.do(ctx, http.MethodGet, "/api/monthly/"+url.PathEscape(q.Class), v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshots fetches quotes for instruments. A zero wait uses the server
// default.
func (c *Client) Snapshots(ctx context.Context, instruments []Instrument, wait time.Duration) ([]Snapshot, error) {
	body := struct {
		Instruments    []Instrument `json:"instruments"`
		TimeoutSeconds float64      `json:"timeout_seconds,omitempty"`
	}{instruments, wait.Seconds()}
	var out struct {
		Snapshots []Snapshot `json:"snapshots"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/snapshot", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Snapshots, nil
}

// Accounts returns the account ids visible to the server.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/accounts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// CacheStats returns series cache statistics.
func (c *Client) CacheStats(ctx context.Context) (*CacheStats, error) {
	var out CacheStats
	if err := c.do(ctx, http.MethodGet, "/api/cache/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearCache removes cache entries older than olderThanHours; zero clears
// everything.
func (c *Client) ClearCache(ctx context.Context, olderThanHours float64) (*ClearResult, error) {
	v := url.Values{}
	if olderThanHours != 0 {
		v.Set("older_than_hours", strconv.FormatFloat(olderThanHours, 'f', -1, 64))
	}
	var out ClearResult
	if err := c.do(ctx, http.MethodDelete, "/api/cache", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profiles lists the instrument profiles.
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var out struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/profiles", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// Health returns the server status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (q SeriesQuery) values() (url.Values, error) {
	v := url.Values{}
	v.Set("symbols", strings.Join(q.Symbols, ","))
	if !q.Start.IsZero() {
		v.Set("start", q.Start.Format(dateLayout))
	}
	if !q.End.IsZero() {
		v.Set("end", q.End.Format(dateLayout))
	}
	if q.Variant != "" {
		v.Set("variant", q.Variant)
	}
	if len(q.Hint) > 0 {
		b, err := json.Marshal(q.Hint)
		if err != nil {
			return nil, fmt.Errorf("encoding hint: %w", err)
		}
		v.Set("hint", string(b))
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
