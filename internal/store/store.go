// Package store persists ibkrfeed data on local disk: the parquet-backed
// series cache and the sqlite-backed qualified-contract store.
package store

import (
	"context"
	"time"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
)

// SeriesCache stores fetched series keyed by request identity.
type SeriesCache interface {
	// Get returns a fresh, non-empty cached series for k. Missing, stale,
	// unreadable and empty entries all report false.
	Get(k Key) (domain.Series, bool)

	// Put stores s under k, replacing any previous entry in full. It returns
	// the stored path, or "" when s had nothing worth storing.
	Put(k Key, s domain.Series) (string, error)
}

// ContractCache memoizes gateway contract qualification.
type ContractCache interface {
	// LookupContract returns the contract saved under key if it is younger
	// than maxAge (zero maxAge means no age limit).
	LookupContract(ctx context.Context, key string, maxAge time.Duration) (gateway.Contract, bool, error)

	// SaveContract records c under key.
	SaveContract(ctx context.Context, key string, c gateway.Contract) error
}
