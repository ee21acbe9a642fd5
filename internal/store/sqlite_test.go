package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ibkrfeed/internal/gateway"
)

func TestContractStoreRoundTrip(t *testing.T) {
	s, err := NewContractStore(filepath.Join(t.TempDir(), "contracts.db"))
	if err != nil {
		t.Fatalf("NewContractStore() error: %v", err)
	}
	defer s.Close()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	want := gateway.Contract{ConID: 495512551, SecType: gateway.SecFuture, Symbol: "ES",
		LocalSymbol: "ESU4", Exchange: "CME", Currency: "USD", Expiry: "20240920", Multiplier: "50"}

	if _, ok, err := s.LookupContract(ctx, "k1", 0); err != nil || ok {
		t.Fatalf("LookupContract(empty) = (%v, %v), want (false, nil)", ok, err)
	}
	if err := s.SaveContract(ctx, "k1", want); err != nil {
		t.Fatalf("SaveContract() error: %v", err)
	}

	got, ok, err := s.LookupContract(ctx, "k1", time.Hour)
	if err != nil || !ok {
		t.Fatalf("LookupContract() = (%v, %v), want hit", ok, err)
	}
	if got != want {
		t.Errorf("LookupContract() = %+v, want %+v", got, want)
	}

	now = now.Add(2 * time.Hour)
	if _, ok, _ := s.LookupContract(ctx, "k1", time.Hour); ok {
		t.Error("LookupContract() returned an entry older than maxAge")
	}
	if _, ok, _ := s.LookupContract(ctx, "k1", 0); !ok {
		t.Error("LookupContract(maxAge=0) missed an existing entry")
	}

	n, err := s.PurgeContracts(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Errorf("PurgeContracts() = (%d, %v), want (1, nil)", n, err)
	}
}

func TestJanitor(t *testing.T) {
	c := newTestCache(t)
	k := pastKey("MIDPOINT")
	if _, err := c.Put(k, dailySeries("X", day(2023, 1, 1), 2)); err != nil {
		t.Fatal(err)
	}

	if _, err := NewJanitor(c, nil, "not a schedule", 24, nil); err == nil {
		t.Error("NewJanitor(bad schedule) error = nil")
	}
	if _, err := NewJanitor(c, nil, "@daily", 0, nil); err == nil {
		t.Error("NewJanitor(max age 0) error = nil")
	}

	j, err := NewJanitor(c, nil, "@daily", 1, nil)
	if err != nil {
		t.Fatalf("NewJanitor() error: %v", err)
	}
	j.RunOnce()
	if _, ok := c.Get(k); !ok {
		t.Error("janitor removed a fresh entry")
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	j.RunOnce()
	if st, _ := c.Stats(); st.FileCount != 0 {
		t.Errorf("FileCount after janitor = %d, want 0", st.FileCount)
	}
}
