package broker

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"ibkrfeed/internal/connection"
	"ibkrfeed/internal/contracts"
	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/util"
)

// Compile-time interface check.
var _ Broker = (*IBKRBroker)(nil)

// IBKRBroker answers account and metadata queries over the persistent
// gateway session. Calls are serialized: one logical operation at a time.
type IBKRBroker struct {
	mgr        *connection.Manager
	resolver   *contracts.Resolver
	authorized []string
	log        *slog.Logger

	mu sync.Mutex
}

// NewIBKRBroker creates an IBKRBroker. authorized is the account
// allow-list; empty means every visible account.
func NewIBKRBroker(mgr *connection.Manager, resolver *contracts.Resolver, authorized []string, log *slog.Logger) *IBKRBroker {
	return &IBKRBroker{
		mgr:        mgr,
		resolver:   resolver,
		authorized: authorized,
		log:        util.OrDefault(log).With("component", "broker"),
	}
}

// Name returns "ibkr".
func (b *IBKRBroker) Name() string {
	return "ibkr"
}

func (b *IBKRBroker) session(ctx context.Context) (gateway.Session, error) {
	sess, err := b.mgr.EnsureConnected(ctx)
	if err != nil {
		if gateway.KindOf(err) == nil {
			err = gateway.Wrap(gateway.ErrConnection, "connect", err)
		}
		return nil, err
	}
	return sess, nil
}

func (b *IBKRBroker) accounts(ctx context.Context, sess gateway.Session) ([]string, error) {
	visible, err := sess.ManagedAccounts(ctx)
	if err != nil {
		return nil, gateway.Classify("accounts", err)
	}
	return authorizedOnly(visible, b.authorized), nil
}

// ManagedAccounts returns the authorized accounts on the session.
func (b *IBKRBroker) ManagedAccounts(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, err := b.session(ctx)
	if err != nil {
		return nil, err
	}
	return b.accounts(ctx, sess)
}

// Positions returns the holdings of account.
func (b *IBKRBroker) Positions(ctx context.Context, account string) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, acct, err := b.selectAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	raw, err := sess.Positions(ctx, acct)
	if err != nil {
		return nil, gateway.Classify("positions", err)
	}

	out := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, domain.Position{
			Account:     acct,
			ConID:       p.Contract.ConID,
			Symbol:      p.Contract.Symbol,
			SecType:     p.Contract.SecType,
			Currency:    p.Contract.Currency,
			Quantity:    p.Quantity,
			AvgCost:     p.AvgCost,
			MarketPrice: p.MarketPrice,
			MarketValue: p.MarketValue,
		})
	}
	b.log.Debug("positions fetched", "account", acct, "count", len(out))
	return out, nil
}

// AccountSummary returns the USD values of SummaryTags for account.
func (b *IBKRBroker) AccountSummary(ctx context.Context, account string) (*domain.AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, acct, err := b.selectAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	vals, err := sess.AccountValues(ctx, acct)
	if err != nil {
		return nil, gateway.Classify("account summary", err)
	}
	return summarize(acct, vals), nil
}

// ContractDetails resolves symbol and asks the gateway to describe it.
func (b *IBKRBroker) ContractDetails(ctx context.Context, symbol string, class domain.InstrumentClass, hint *contracts.Hint) ([]domain.ContractDetail, error) {
	c, err := b.resolver.Resolve(symbol, class, hint)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sess, err := b.session(ctx)
	if err != nil {
		return nil, err
	}
	details, err := sess.ContractDetails(ctx, c)
	if err != nil {
		err = gateway.Classify("contract details", err)
		if gateway.KindOf(err) == gateway.ErrData {
			err = gateway.Wrap(gateway.ErrContract, "contract details", err)
		}
		return nil, err
	}
	if len(details) == 0 {
		return nil, gateway.Errorf(gateway.ErrContract, "contract details", "no contract found for %s", c)
	}

	out := make([]domain.ContractDetail, 0, len(details))
	for _, d := range details {
		out = append(out, detail(d))
	}
	return out, nil
}

func (b *IBKRBroker) selectAccount(ctx context.Context, requested string) (gateway.Session, string, error) {
	sess, err := b.session(ctx)
	if err != nil {
		return nil, "", err
	}
	candidates, err := b.accounts(ctx, sess)
	if err != nil {
		return nil, "", err
	}
	acct, err := pickAccount(candidates, requested)
	if err != nil {
		return nil, "", err
	}
	return sess, acct, nil
}

func summarize(account string, vals []gateway.AccountValue) *domain.AccountSummary {
	sum := &domain.AccountSummary{Account: account, Currency: "USD", Values: make(map[string]float64)}
	for _, v := range vals {
		if !strings.EqualFold(v.Currency, "USD") || !slices.Contains(SummaryTags, v.Tag) {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil {
			continue
		}
		sum.Values[v.Tag] = f
	}
	return sum
}

func detail(d gateway.ContractDetails) domain.ContractDetail {
	c := d.Contract
	return domain.ContractDetail{
		ConID:      c.ConID,
		Symbol:     c.Symbol,
		SecType:    c.SecType,
		Exchange:   c.Exchange,
		Currency:   c.Currency,
		LongName:   d.LongName,
		Expiry:     c.Expiry,
		Strike:     c.Strike,
		Right:      c.Right,
		Multiplier: c.Multiplier,
	}
}
