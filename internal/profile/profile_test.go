package profile

import (
	"reflect"
	"testing"

	"ibkrfeed/internal/domain"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		class string
		want  *Profile
	}{
		{"futures", Futures},
		{"futures_daily", FuturesDaily},
		{"FX", FX},
		{" forex ", FX},
		{"fx_artifact", FX},
		{"bond", Bond},
		{"option", Option},
		{"equity", Equity},
	}
	for _, tt := range tests {
		got, ok := Lookup(tt.class)
		if !ok || got != tt.want {
			t.Errorf("Lookup(%q) = %v, %v; want %v", tt.class, got, ok, tt.want.Class())
		}
	}
	if _, ok := Lookup("crypto"); ok {
		t.Error("Lookup(\"crypto\") ok = true, want false")
	}
}

func TestChains(t *testing.T) {
	if !reflect.DeepEqual(FX.Variants(), []string{"MIDPOINT", "BID", "ASK"}) {
		t.Errorf("FX.Variants() = %v", FX.Variants())
	}
	if !reflect.DeepEqual(Futures.Variants(), []string{"TRADES"}) {
		t.Errorf("Futures.Variants() = %v", Futures.Variants())
	}
	if FX.RTHOnly() {
		t.Error("FX.RTHOnly() = true, want false")
	}
	if FX.BarSize() != BarDaily || Futures.BarSize() != BarMonthly || FX.Duration() != "2 Y" {
		t.Errorf("bar sizes = %q/%q, duration = %q", FX.BarSize(), Futures.BarSize(), FX.Duration())
	}
	if !Futures.Monthly() || FX.Monthly() {
		t.Error("Monthly() mismatch for futures/fx")
	}
	if !Futures.OpenEnded() || Bond.OpenEnded() {
		t.Error("OpenEnded() mismatch for futures/bond")
	}
}

func TestVariantsIsCopy(t *testing.T) {
	for _, p := range All() {
		v := p.Variants()
		v[0] = "MUTATED"
		if got := p.Variants()[0]; got == "MUTATED" {
			t.Errorf("%s chain changed through a Variants() copy", p.Class())
		}
	}
}

func TestAllSorted(t *testing.T) {
	all := All()
	if len(all) != 6 {
		t.Fatalf("len(All()) = %d, want 6", len(all))
	}
	if all[0].Class() != domain.ClassBond {
		t.Errorf("All()[0].Class() = %q, want %q", all[0].Class(), domain.ClassBond)
	}
}
