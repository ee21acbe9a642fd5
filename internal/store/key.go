package store

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// Key identifies one cached series. Two keys that differ only in symbol
// case or whitespace, or in time-of-day, produce the same fingerprint.
// Start and End are not reordered.
type Key struct {
	Symbol  string
	Class   string
	Variant string
	BarSize string
	RTH     bool
	Start   time.Time
	End     time.Time
}

// Fingerprint returns the hex md5 digest of the normalized key fields.
func (k Key) Fingerprint() string {
	rth := "all"
	if k.RTH {
		rth = "rth"
	}
	raw := strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(k.Symbol)),
		strings.ToLower(strings.TrimSpace(k.Class)),
		strings.ToUpper(strings.TrimSpace(k.Variant)),
		strings.TrimSpace(k.BarSize),
		rth,
		isoDate(k.Start),
		isoDate(k.End),
	}, "|")
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// FileName returns the cache file name for k.
func (k Key) FileName() string {
	return "ibkr_" + k.Fingerprint() + ".parquet"
}

func isoDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
