package broker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ibkrfeed/internal/connection"
	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/gateway/gatewaytest"
)

func newTestBroker(t *testing.T, d *gatewaytest.Dialer, authorized ...string) *IBKRBroker {
	t.Helper()
	res, err := contracts.NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	mgr := connection.NewManager(d, connection.Options{
		Gateway:     gateway.Options{Host: "127.0.0.1", Port: 7496, ClientID: 1, Timeout: time.Second, ReadOnly: true},
		BaseDelay:   time.Millisecond,
		MaxAttempts: 1,
	}, nil)
	t.Cleanup(mgr.Close)
	return NewIBKRBroker(mgr, res, authorized, nil)
}

func TestBrokerNames(t *testing.T) {
	if got := NewSimulatorBroker().Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
	if got := newTestBroker(t, &gatewaytest.Dialer{}).Name(); got != "ibkr" {
		t.Errorf("IBKRBroker.Name() = %q, want %q", got, "ibkr")
	}
}

func TestPickAccount(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		requested  string
		want       string
		wantErr    string
	}{
		{"single", []string{"U1"}, "", "U1", ""},
		{"explicit", []string{"U1", "U2"}, "u2", "U2", ""},
		{"none", nil, "", "", "no IBKR accounts available"},
		{"ambiguous", []string{"U1", "U2"}, "", "", "multiple accounts"},
		{"not visible", []string{"U1"}, "U9", "", "not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickAccount(tt.candidates, tt.requested)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				if !errors.Is(err, gateway.ErrAccount) {
					t.Errorf("err kind = %v, want ErrAccount", gateway.KindOf(err))
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("pickAccount = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestAuthorizedOnly(t *testing.T) {
	got := authorizedOnly([]string{"U1", "U2", "U3"}, []string{"u3", "U1"})
	if len(got) != 2 || got[0] != "U1" || got[1] != "U3" {
		t.Errorf("authorizedOnly = %v, want [U1 U3]", got)
	}
	if got := authorizedOnly([]string{"U1"}, nil); len(got) != 1 {
		t.Errorf("empty allow-list filtered: %v", got)
	}
}

func TestIBKRBrokerPositions(t *testing.T) {
	d := &gatewaytest.Dialer{
		Accounts: []string{"U1", "U2"},
		Positions: []gateway.Position{
			{Account: "U1", Contract: gateway.Contract{ConID: 265598, Symbol: "AAPL", SecType: gateway.SecStock, Currency: "USD"}, Quantity: 10, AvgCost: 150},
			{Account: "U2", Contract: gateway.Contract{ConID: 272093, Symbol: "MSFT", SecType: gateway.SecStock, Currency: "USD"}, Quantity: 5},
		},
	}
	b := newTestBroker(t, d, "U1")

	accts, err := b.ManagedAccounts(context.Background())
	if err != nil || len(accts) != 1 || accts[0] != "U1" {
		t.Fatalf("ManagedAccounts = %v, %v", accts, err)
	}

	pos, err := b.Positions(context.Background(), "")
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(pos) != 1 || pos[0].Symbol != "AAPL" || pos[0].ConID != 265598 || pos[0].Account != "U1" {
		t.Errorf("positions = %+v", pos)
	}

	if _, err := b.Positions(context.Background(), "U2"); !errors.Is(err, gateway.ErrAccount) {
		t.Errorf("unauthorized account err = %v, want ErrAccount", err)
	}
	if d.Dials() != 1 {
		t.Errorf("dials = %d, want 1 (session reused)", d.Dials())
	}
}

func TestIBKRBrokerAccountSummary(t *testing.T) {
	d := &gatewaytest.Dialer{
		Accounts: []string{"U1"},
		Values: []gateway.AccountValue{
			{Tag: "NetLiquidation", Value: "100000.5", Currency: "USD"},
			{Tag: "NetLiquidation", Value: "90000", Currency: "EUR"},
			{Tag: "BuyingPower", Value: "400000", Currency: "USD"},
			{Tag: "AccountType", Value: "INDIVIDUAL", Currency: ""},
			{Tag: "SMA", Value: "n/a", Currency: "USD"},
		},
	}
	b := newTestBroker(t, d)

	sum, err := b.AccountSummary(context.Background(), "")
	if err != nil {
		t.Fatalf("AccountSummary: %v", err)
	}
	if sum.Account != "U1" || sum.Currency != "USD" {
		t.Errorf("summary header = %s %s", sum.Account, sum.Currency)
	}
	if len(sum.Values) != 2 || sum.Values["NetLiquidation"] != 100000.5 || sum.Values["BuyingPower"] != 400000 {
		t.Errorf("values = %v", sum.Values)
	}
}

func TestIBKRBrokerConnectionError(t *testing.T) {
	d := &gatewaytest.Dialer{Fail: func(int) error { return errors.New("connection refused") }}
	b := newTestBroker(t, d)

	if _, err := b.ManagedAccounts(context.Background()); !errors.Is(err, gateway.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}

func TestIBKRBrokerContractDetails(t *testing.T) {
	d := &gatewaytest.Dialer{
		Accounts: []string{"U1"},
		Details: []gateway.ContractDetails{{
			Contract: gateway.Contract{ConID: 495512551, Symbol: "ES", SecType: gateway.SecFuture, Exchange: "CME", Currency: "USD", Expiry: "20241220", Multiplier: "50"},
			LongName: "E-mini S&P 500",
		}},
	}
	b := newTestBroker(t, d)

	got, err := b.ContractDetails(context.Background(), "es", domain.ClassFutures, nil)
	if err != nil {
		t.Fatalf("ContractDetails: %v", err)
	}
	if len(got) != 1 || got[0].ConID != 495512551 || got[0].LongName != "E-mini S&P 500" || got[0].Multiplier != "50" {
		t.Errorf("details = %+v", got)
	}

	if _, err := b.ContractDetails(context.Background(), "NOPE", domain.ClassFutures, nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("unmapped future err = %v, want ErrContract", err)
	}
}

func TestSimulatorBroker(t *testing.T) {
	b := NewSimulatorBroker("U1", "U2")
	b.AddPosition(domain.Position{Account: "U1", Symbol: "AAPL", Quantity: 10})
	b.AddPosition(domain.Position{Account: "U2", Symbol: "MSFT", Quantity: 3})
	b.SetSummary(domain.AccountSummary{Account: "U2", Currency: "USD", Values: map[string]float64{"NetLiquidation": 5}})
	b.SetDetails("AAPL", domain.ContractDetail{ConID: 265598, Symbol: "AAPL"})
	ctx := context.Background()

	if _, err := b.Positions(ctx, ""); !errors.Is(err, gateway.ErrAccount) {
		t.Errorf("ambiguous positions err = %v, want ErrAccount", err)
	}
	pos, err := b.Positions(ctx, "U2")
	if err != nil || len(pos) != 1 || pos[0].Symbol != "MSFT" {
		t.Errorf("Positions(U2) = %v, %v", pos, err)
	}

	b.Authorize("U2")
	sum, err := b.AccountSummary(ctx, "")
	if err != nil || sum.Values["NetLiquidation"] != 5 {
		t.Errorf("AccountSummary = %+v, %v", sum, err)
	}

	if d, err := b.ContractDetails(ctx, "aapl", domain.ClassEquity, nil); err != nil || len(d) != 1 {
		t.Errorf("ContractDetails(aapl) = %v, %v", d, err)
	}
	if _, err := b.ContractDetails(ctx, "ZZZ", domain.ClassEquity, nil); !errors.Is(err, gateway.ErrContract) {
		t.Errorf("unknown details err = %v, want ErrContract", err)
	}
}
