package broker

import (
	"context"
	"strings"
	"sync"

	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements Broker over in-memory state. It applies the
// same account selection rules as IBKRBroker and never touches the network.
type SimulatorBroker struct {
	mu         sync.RWMutex
	accounts   []string
	authorized []string
	positions  []domain.Position
	summaries  map[string]domain.AccountSummary
	details    map[string][]domain.ContractDetail
}

// NewSimulatorBroker creates a SimulatorBroker exposing accounts.
func NewSimulatorBroker(accounts ...string) *SimulatorBroker {
	return &SimulatorBroker{
		accounts:  accounts,
		summaries: make(map[string]domain.AccountSummary),
		details:   make(map[string][]domain.ContractDetail),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Authorize restricts visible accounts to allow.
func (b *SimulatorBroker) Authorize(allow ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authorized = allow
}

// AddPosition records a holding.
func (b *SimulatorBroker) AddPosition(p domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = append(b.positions, p)
}

// SetSummary records the account values of s.Account.
func (b *SimulatorBroker) SetSummary(s domain.AccountSummary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaries[s.Account] = s
}

// SetDetails records the details returned for symbol.
func (b *SimulatorBroker) SetDetails(symbol string, d ...domain.ContractDetail) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.details[strings.ToUpper(symbol)] = d
}

// ManagedAccounts returns the authorized simulated accounts.
func (b *SimulatorBroker) ManagedAccounts(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), authorizedOnly(b.accounts, b.authorized)...), nil
}

// Positions returns the simulated holdings of account.
func (b *SimulatorBroker) Positions(_ context.Context, account string) ([]domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	acct, err := pickAccount(authorizedOnly(b.accounts, b.authorized), account)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Account == acct {
			out = append(out, p)
		}
	}
	return out, nil
}

// AccountSummary returns the recorded summary of account, or an empty one.
func (b *SimulatorBroker) AccountSummary(_ context.Context, account string) (*domain.AccountSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	acct, err := pickAccount(authorizedOnly(b.accounts, b.authorized), account)
	if err != nil {
		return nil, err
	}
	s, ok := b.summaries[acct]
	if !ok {
		s = domain.AccountSummary{Account: acct, Currency: "USD"}
	}
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	s.Values = values
	return &s, nil
}

// ContractDetails returns the details recorded for symbol.
func (b *SimulatorBroker) ContractDetails(_ context.Context, symbol string, class domain.InstrumentClass, _ *contracts.Hint) ([]domain.ContractDetail, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d, ok := b.details[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, gateway.Errorf(gateway.ErrContract, "contract details", "no %s contract found for %s", class, symbol)
	}
	return append([]domain.ContractDetail(nil), d...), nil
}
