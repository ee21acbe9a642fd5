package contracts

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	return r
}

func strike(v float64) *float64 { return &v }

func TestResolveFutures(t *testing.T) {
	r := newResolver(t)

	c, err := r.Resolve(" es ", domain.ClassFutures, nil)
	if err != nil {
		t.Fatalf("Resolve(ES) error: %v", err)
	}
	if c.SecType != gateway.SecContFuture || c.Symbol != "ES" || c.Exchange != "CME" || c.Currency != "USD" {
		t.Errorf("Resolve(ES) = %+v", c)
	}

	c, err = r.Resolve("FESX", domain.ClassFuturesDaily, nil)
	if err != nil || c.Currency != "EUR" || c.Exchange != "EUREX" {
		t.Errorf("Resolve(FESX) = %+v, %v", c, err)
	}

	if _, err := r.Resolve("ZZZZ", domain.ClassFutures, nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("Resolve(unmapped) error = %v, want ErrContract", err)
	}
	c, err = r.Resolve("ZZZZ", domain.ClassFutures, &Hint{Exchange: "ICE"})
	if err != nil || c.Exchange != "ICE" {
		t.Errorf("Resolve(unmapped, exchange hint) = %+v, %v", c, err)
	}
}

func TestResolveFuturesOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ex.yaml")
	content := "ibkr_futures_exchanges:\n  es: {exchange: GLOBEX, currency: USD}\n  KC: {exchange: NYBOT, currency: USD}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewResolver(path)
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	if ex, _ := r.FuturesExchange("ES"); ex.Exchange != "GLOBEX" {
		t.Errorf("ES exchange = %q, want GLOBEX", ex.Exchange)
	}
	if _, ok := r.FuturesExchange("KC"); !ok {
		t.Error("KC missing after overlay")
	}
	if _, ok := r.FuturesExchange("CL"); !ok {
		t.Error("built-in CL mapping lost after overlay")
	}
}

func TestResolveFX(t *testing.T) {
	r := newResolver(t)
	for _, sym := range []string{"GBPHKD", "gbp.hkd", "GBP/HKD"} {
		c, err := r.Resolve(sym, domain.ClassFX, nil)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", sym, err)
			continue
		}
		if c.SecType != gateway.SecCash || c.Symbol != "GBP" || c.Currency != "HKD" || c.Exchange != "IDEALPRO" {
			t.Errorf("Resolve(%q) = %+v", sym, c)
		}
	}
	if _, err := r.Resolve("EURO", domain.ClassFX, nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("Resolve(EURO) error = %v, want ErrContract", err)
	}
}

func TestResolveBond(t *testing.T) {
	r := newResolver(t)
	if _, err := r.Resolve("T 4 02/15/34", domain.ClassBond, nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("Resolve(bond without con_id) error = %v, want ErrContract", err)
	}
	c, err := r.Resolve("UST10", domain.ClassBond, &Hint{ConID: 123456})
	if err != nil || c.ConID != 123456 || c.SecType != gateway.SecBond {
		t.Errorf("Resolve(bond) = %+v, %v", c, err)
	}
}

func TestResolveOption(t *testing.T) {
	r := newResolver(t)

	c, err := r.Resolve("SPY 240621C00500000", domain.ClassOption,
		&Hint{Expiry: "2024-06-21", Strike: strike(500), Right: "call"})
	if err != nil {
		t.Fatalf("Resolve(OCC) error: %v", err)
	}
	if c.Symbol != "SPY" || c.Expiry != "20240621" || c.Strike != 500 || c.Right != "C" || c.Exchange != "SMART" {
		t.Errorf("Resolve(OCC) = %+v", c)
	}

	c, err = r.Resolve("QQQ", domain.ClassOption, &Hint{ConID: 777, Right: "P"})
	if err != nil || c.ConID != 777 || c.Right != "P" {
		t.Errorf("Resolve(option con_id) = %+v, %v", c, err)
	}

	tests := []struct {
		name string
		sym  string
		hint *Hint
	}{
		{"nothing", "SPY", nil},
		{"bad right", "SPY", &Hint{Expiry: "20240621", Strike: strike(1), Right: "X"}},
		{"no underlying", "WEIRD-OPT", &Hint{Expiry: "20240621", Strike: strike(1), Right: "C"}},
	}
	for _, tt := range tests {
		if _, err := r.Resolve(tt.sym, domain.ClassOption, tt.hint); !errors.Is(err, gateway.ErrContract) {
			t.Errorf("%s: error = %v, want ErrContract", tt.name, err)
		}
	}
}

func TestResolveUnsupported(t *testing.T) {
	r := newResolver(t)
	if _, err := r.Resolve("BTC", domain.InstrumentClass("crypto"), nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("Resolve(crypto) error = %v, want ErrContract", err)
	}
	if _, err := r.Resolve("  ", domain.ClassEquity, nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("Resolve(empty) error = %v, want ErrContract", err)
	}
}

func TestHintConIDValidation(t *testing.T) {
	valid := map[string]any{"a": float64(265598), "b": "265598", "c": 42}
	for name, v := range valid {
		h, err := HintFromMap(map[string]any{"con_id": v})
		if err != nil || h.ConID <= 0 {
			t.Errorf("%s: HintFromMap(con_id=%v) = %+v, %v", name, v, h, err)
		}
	}

	invalid := []any{math.NaN(), math.Inf(1), 1.5, -3.0, "abc", 0}
	for _, v := range invalid {
		if _, err := HintFromMap(map[string]any{"con_id": v}); !errors.Is(err, gateway.ErrContract) {
			t.Errorf("HintFromMap(con_id=%v) error = %v, want ErrContract", v, err)
		}
	}
}

func TestParseHint(t *testing.T) {
	h, err := ParseHint(`{"con_id": 12345, "strike": 101.5, "right": "P", "expiry": "20250117"}`)
	if err != nil {
		t.Fatalf("ParseHint() error: %v", err)
	}
	if h.ConID != 12345 || h.Strike == nil || *h.Strike != 101.5 || h.Right != "P" {
		t.Errorf("ParseHint() = %+v", h)
	}
	if h, err := ParseHint(""); h != nil || err != nil {
		t.Errorf("ParseHint(\"\") = %v, %v, want nil, nil", h, err)
	}
	if _, err := ParseHint("{not json"); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("ParseHint(bad) error = %v, want ErrContract", err)
	}
	if _, err := ParseHint(`{"con_id": 1.25}`); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("ParseHint(fractional con_id) error = %v, want ErrContract", err)
	}
}
