package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ibkrfeed/internal/gateway"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ContractCache = (*ContractStore)(nil)

const contractSchema = `
CREATE TABLE IF NOT EXISTS qualified_contracts (
	cache_key    TEXT PRIMARY KEY,
	con_id       INTEGER NOT NULL,
	sec_type     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	local_symbol TEXT NOT NULL DEFAULT '',
	exchange     TEXT NOT NULL DEFAULT '',
	currency     TEXT NOT NULL DEFAULT '',
	expiry       TEXT NOT NULL DEFAULT '',
	strike       REAL NOT NULL DEFAULT 0,
	opt_right    TEXT NOT NULL DEFAULT '',
	multiplier   TEXT NOT NULL DEFAULT '',
	qualified_at INTEGER NOT NULL
)`

// ContractStore persists qualified contracts in SQLite so repeated
// qualification of the same descriptor skips the gateway's symbol search.
type ContractStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewContractStore opens (or creates) a SQLite database at dbPath and
// ensures the schema exists. Use ":memory:" for a private in-memory store.
func NewContractStore(dbPath string) (*ContractStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(contractSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating contract schema: %w", err)
	}
	return &ContractStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *ContractStore) Close() error {
	return s.db.Close()
}

// LookupContract returns the contract stored under key when it was saved
// within maxAge. A zero maxAge accepts any age.
func (s *ContractStore) LookupContract(ctx context.Context, key string, maxAge time.Duration) (gateway.Contract, bool, error) {
	var (
		c  gateway.Contract
		at int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT con_id, sec_type, symbol, local_symbol, exchange, currency,
		       expiry, strike, opt_right, multiplier, qualified_at
		FROM qualified_contracts WHERE cache_key = ?`, key).
		Scan(&c.ConID, &c.SecType, &c.Symbol, &c.LocalSymbol, &c.Exchange, &c.Currency,
			&c.Expiry, &c.Strike, &c.Right, &c.Multiplier, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Contract{}, false, nil
	}
	if err != nil {
		return gateway.Contract{}, false, fmt.Errorf("looking up contract %q: %w", key, err)
	}
	if maxAge > 0 && s.now().Sub(time.UnixMilli(at)) > maxAge {
		return gateway.Contract{}, false, nil
	}
	return c, true, nil
}

// SaveContract inserts or replaces the contract stored under key.
func (s *ContractStore) SaveContract(ctx context.Context, key string, c gateway.Contract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO qualified_contracts
		  (cache_key, con_id, sec_type, symbol, local_symbol, exchange, currency,
		   expiry, strike, opt_right, multiplier, qualified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, c.ConID, c.SecType, c.Symbol, c.LocalSymbol, c.Exchange, c.Currency,
		c.Expiry, c.Strike, c.Right, c.Multiplier, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving contract %q: %w", key, err)
	}
	return nil
}

// PurgeContracts deletes entries saved more than olderThan ago and returns
// how many were removed.
func (s *ContractStore) PurgeContracts(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM qualified_contracts WHERE qualified_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging contracts: %w", err)
	}
	return res.RowsAffected()
}
