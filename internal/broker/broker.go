// Package broker exposes account and contract metadata through a Broker
// interface, backed by the persistent gateway session or by an in-memory
// simulator.
package broker

import (
	"context"
	"slices"
	"strings"

	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
)

// Broker abstracts account and metadata queries.
type Broker interface {
	// Name returns the broker identifier (e.g. "ibkr", "simulator").
	Name() string

	// ManagedAccounts returns the authorized accounts visible to the broker.
	ManagedAccounts(ctx context.Context) ([]string, error)

	// Positions returns the holdings of account. An empty account selects
	// the only available one.
	Positions(ctx context.Context, account string) ([]domain.Position, error)

	// AccountSummary returns the USD headline values of account.
	AccountSummary(ctx context.Context, account string) (*domain.AccountSummary, error)

	// ContractDetails resolves and describes an instrument.
	ContractDetails(ctx context.Context, symbol string, class domain.InstrumentClass, hint *contracts.Hint) ([]domain.ContractDetail, error)
}

// SummaryTags are the account values kept by AccountSummary.
var SummaryTags = []string{
	"NetLiquidation",
	"TotalCashValue",
	"BuyingPower",
	"GrossPositionValue",
	"MaintMarginReq",
	"AvailableFunds",
	"ExcessLiquidity",
	"SMA",
}

// authorizedOnly filters visible by the allow-list. An empty allow-list
// authorizes everything.
func authorizedOnly(visible, allow []string) []string {
	if len(allow) == 0 {
		return visible
	}
	out := make([]string, 0, len(visible))
	for _, a := range visible {
		if slices.ContainsFunc(allow, func(x string) bool { return strings.EqualFold(x, a) }) {
			out = append(out, a)
		}
	}
	return out
}

// pickAccount applies the account selection rules to the authorized
// candidates.
func pickAccount(candidates []string, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		for _, a := range candidates {
			if strings.EqualFold(a, requested) {
				return a, nil
			}
		}
		return "", gateway.Errorf(gateway.ErrAccount, "account", "account %s is not available or not authorized", requested)
	}
	switch len(candidates) {
	case 0:
		return "", gateway.Errorf(gateway.ErrAccount, "account", "no IBKR accounts available")
	case 1:
		return candidates[0], nil
	}
	return "", gateway.Errorf(gateway.ErrAccount, "account",
		"multiple accounts available (%s); specify one", strings.Join(candidates, ", "))
}
