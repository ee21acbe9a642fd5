package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/metrics"
	"ibkrfeed/internal/util"
)

// Compile-time interface check.
var _ SeriesCache = (*DiskCache)(nil)

// DefaultCurrentMonthTTL is the freshness window for entries whose request
// window overlaps the current calendar month.
const DefaultCurrentMonthTTL = 4 * time.Hour

// errCorrupt marks a cache file that exists but cannot be decoded.
var errCorrupt = errors.New("corrupt cache file")

// DiskCache is a one-file-per-key series cache of zstd-compressed parquet
// files. Entries for windows touching the current month expire after TTL;
// all other entries never expire by age.
type DiskCache struct {
	Dir string
	TTL time.Duration

	now func() time.Time
	log *slog.Logger
}

// NewDiskCache creates a DiskCache rooted at dir. A non-positive ttl selects
// DefaultCurrentMonthTTL.
func NewDiskCache(dir string, ttl time.Duration, log *slog.Logger) *DiskCache {
	if ttl <= 0 {
		ttl = DefaultCurrentMonthTTL
	}
	return &DiskCache{
		Dir: dir,
		TTL: ttl,
		now: time.Now,
		log: util.OrDefault(log).With("component", "cache"),
	}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// SeriesRecord is the Parquet schema for one cached observation.
type SeriesRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Value     float64 `parquet:"value"`
}

// ---------------------------------------------------------------------------
// SeriesCache implementation
// ---------------------------------------------------------------------------

// Path returns the file path for k.
func (c *DiskCache) Path(k Key) string {
	return filepath.Join(c.Dir, k.FileName())
}

// ttlFor returns the applicable TTL for k, zero meaning no expiry.
func (c *DiskCache) ttlFor(k Key) time.Duration {
	if util.OverlapsMonth(k.Start, k.End, c.now()) {
		return c.TTL
	}
	return 0
}

// Get returns the cached series for k. Expired entries, files that fail to
// decode, and entries that decode to nothing are deleted and reported as
// misses.
func (c *DiskCache) Get(k Key) (domain.Series, bool) {
	path := c.Path(k)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("cache stat failed", "path", path, "error", err)
		}
		metrics.CacheEvents.WithLabelValues("miss").Inc()
		return domain.Series{}, false
	}

	if ttl := c.ttlFor(k); ttl > 0 {
		if age := c.now().Sub(info.ModTime()); age > ttl {
			c.log.Debug("cache entry expired", "path", path, "age", age.Round(time.Second))
			c.remove(path)
			metrics.CacheEvents.WithLabelValues("expired").Inc()
			return domain.Series{}, false
		}
	}

	s, err := readSeries(path, k.Symbol)
	switch {
	case errors.Is(err, errCorrupt):
		c.log.Warn("discarding unreadable cache entry", "path", path, "error", err)
		c.remove(path)
		metrics.CacheEvents.WithLabelValues("corrupt").Inc()
		return domain.Series{}, false
	case err != nil:
		c.log.Warn("cache read failed", "path", path, "error", err)
		metrics.CacheEvents.WithLabelValues("miss").Inc()
		return domain.Series{}, false
	case s.Empty():
		c.log.Debug("discarding empty cache entry", "path", path)
		c.remove(path)
		metrics.CacheEvents.WithLabelValues("miss").Inc()
		return domain.Series{}, false
	}

	metrics.CacheEvents.WithLabelValues("hit").Inc()
	return s, true
}

// Put writes s under k. Invalid points are dropped first; if nothing
// remains, Put is a no-op that leaves any existing entry untouched.
func (c *DiskCache) Put(k Key, s domain.Series) (string, error) {
	clean := domain.NewSeries(s.Name, s.Points)
	if clean.Empty() {
		metrics.CacheEvents.WithLabelValues("skip").Inc()
		return "", nil
	}

	records := make([]SeriesRecord, len(clean.Points))
	for i, p := range clean.Points {
		records[i] = SeriesRecord{Timestamp: p.Time.UnixMilli(), Value: p.Value}
	}

	path := c.Path(k)
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing cache entry %s: %w", filepath.Base(path), err)
	}
	metrics.CacheEvents.WithLabelValues("write").Inc()
	c.log.Debug("cache entry written", "path", path, "points", len(records))
	return path, nil
}

func (c *DiskCache) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn("removing cache entry", "path", path, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// Stats summarises the cache directory.
type Stats struct {
	FileCount    int        `json:"file_count"`
	TotalBytes   int64      `json:"total_bytes"`
	TotalMB      float64    `json:"total_mb"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
	CacheEnabled bool       `json:"cache_enabled"`
	Dir          string     `json:"cache_dir"`
}

// ClearResult reports what Clear removed.
type ClearResult struct {
	FilesRemoved int      `json:"files_removed"`
	BytesFreed   int64    `json:"bytes_freed"`
	MBFreed      float64  `json:"mb_freed"`
	Errors       []string `json:"errors"`
}

// Stats scans the cache directory without modifying it.
func (c *DiskCache) Stats() (Stats, error) {
	st := Stats{Dir: c.Dir, CacheEnabled: c.Enabled()}
	files, err := c.entries()
	if err != nil {
		return st, err
	}
	for _, f := range files {
		st.FileCount++
		st.TotalBytes += f.size
		mt := f.modTime.UTC()
		if st.Oldest == nil || mt.Before(*st.Oldest) {
			st.Oldest = &mt
		}
		if st.Newest == nil || mt.After(*st.Newest) {
			st.Newest = &mt
		}
	}
	st.TotalMB = toMB(st.TotalBytes)
	return st, nil
}

// Clear deletes cache entries older than olderThanHours; zero removes every
// entry. A negative age is rejected before anything is touched. Per-file
// errors are collected in the result.
func (c *DiskCache) Clear(olderThanHours float64) (ClearResult, error) {
	res := ClearResult{Errors: []string{}}
	if olderThanHours < 0 || math.IsNaN(olderThanHours) {
		return res, fmt.Errorf("older_than_hours must be >= 0, got %v", olderThanHours)
	}

	files, err := c.entries()
	if err != nil {
		return res, err
	}
	now := c.now()
	for _, f := range files {
		if olderThanHours > 0 && now.Sub(f.modTime).Hours() <= olderThanHours {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", filepath.Base(f.path), err))
			continue
		}
		res.FilesRemoved++
		res.BytesFreed += f.size
	}
	res.MBFreed = toMB(res.BytesFreed)
	c.log.Info("cache cleared", "files", res.FilesRemoved, "bytes", res.BytesFreed, "errors", len(res.Errors))
	return res, nil
}

// Enabled reports whether the cache directory exists or can be created.
func (c *DiskCache) Enabled() bool {
	return c.Dir != "" && os.MkdirAll(c.Dir, 0o755) == nil
}

type cacheFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *DiskCache) entries() ([]cacheFile, error) {
	matches, err := filepath.Glob(filepath.Join(c.Dir, "ibkr_*.parquet"))
	if err != nil {
		return nil, err
	}
	out := make([]cacheFile, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		out = append(out, cacheFile{path: m, size: info.Size(), modTime: info.ModTime()})
	}
	return out, nil
}

func toMB(b int64) float64 {
	return math.Round(float64(b)/(1024*1024)*100) / 100
}

// ---------------------------------------------------------------------------
// Parquet helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records to path atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
func writeParquetFile[T any](path string, records []T) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".ibkr_*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op once renamed

	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(records); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readSeries decodes a cache file. Decoding failures are wrapped in
// errCorrupt; failures to open the file are returned as is.
func readSeries(path, name string) (domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Series{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.Series{}, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return domain.Series{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if _, ok := pf.Schema().Lookup("value"); !ok {
		return domain.Series{}, fmt.Errorf("%w: missing value column", errCorrupt)
	}
	if _, ok := pf.Schema().Lookup("timestamp"); !ok {
		return domain.Series{}, fmt.Errorf("%w: missing timestamp column", errCorrupt)
	}

	records, err := parquet.Read[SeriesRecord](f, info.Size())
	if err != nil {
		return domain.Series{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}

	pts := make([]domain.Point, 0, len(records))
	for _, r := range records {
		if r.Timestamp <= 0 {
			continue
		}
		pts = append(pts, domain.Point{Time: time.UnixMilli(r.Timestamp).UTC(), Value: r.Value})
	}
	return domain.NewSeries(name, pts), nil
}
