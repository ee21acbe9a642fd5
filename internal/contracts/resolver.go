// Package contracts turns a symbol, an instrument class and an optional
// identity hint into a gateway contract descriptor. Resolution is offline;
// the gateway qualifies the descriptor later.
package contracts

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
)

//go:embed futures_exchanges.yaml
var defaultFuturesExchanges []byte

// FuturesExchange is the listing venue of a futures root symbol.
type FuturesExchange struct {
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
}

type exchangeFile struct {
	Futures map[string]FuturesExchange `yaml:"ibkr_futures_exchanges"`
}

var (
	fxPairRe = regexp.MustCompile(`^([A-Z]{3})[./]?([A-Z]{3})$`)
	occRe    = regexp.MustCompile(`^([A-Z]{1,6})\s*\d{6,8}[CP]\d+$`)
)

// Resolver builds contract descriptors.
type Resolver struct {
	futures map[string]FuturesExchange
}

// NewResolver loads the built-in futures exchange mapping and overlays the
// mapping file at path when path is non-empty.
func NewResolver(path string) (*Resolver, error) {
	r := &Resolver{futures: make(map[string]FuturesExchange)}
	if err := r.load(defaultFuturesExchanges); err != nil {
		return nil, fmt.Errorf("parsing built-in futures exchanges: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading futures exchanges: %w", err)
		}
		if err := r.load(data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return r, nil
}

func (r *Resolver) load(data []byte) error {
	var f exchangeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for sym, ex := range f.Futures {
		r.futures[strings.ToUpper(strings.TrimSpace(sym))] = ex
	}
	return nil
}

// FuturesExchange returns the mapping for a futures root symbol.
func (r *Resolver) FuturesExchange(symbol string) (FuturesExchange, bool) {
	ex, ok := r.futures[strings.ToUpper(strings.TrimSpace(symbol))]
	return ex, ok
}

// Resolve returns the contract descriptor for symbol in class. Failures are
// gateway.ErrContract errors.
func (r *Resolver) Resolve(symbol string, class domain.InstrumentClass, hint *Hint) (gateway.Contract, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "empty symbol")
	}
	if hint == nil {
		hint = &Hint{}
	}

	switch class {
	case domain.ClassFutures, domain.ClassFuturesDaily:
		return r.futuresContract(sym, hint)
	case domain.ClassFX:
		return fxContract(sym)
	case domain.ClassBond:
		return bondContract(sym, hint)
	case domain.ClassOption:
		return optionContract(sym, hint)
	case domain.ClassEquity:
		return gateway.Contract{
			ConID:    hint.ConID,
			SecType:  gateway.SecStock,
			Symbol:   sym,
			Exchange: or(hint.Exchange, "SMART"),
			Currency: or(hint.Currency, "USD"),
		}, nil
	}
	return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "instrument class %q not supported", class)
}

func (r *Resolver) futuresContract(sym string, hint *Hint) (gateway.Contract, error) {
	ex, ok := r.FuturesExchange(sym)
	if hint.Exchange != "" {
		ex.Exchange = hint.Exchange
		ok = true
	}
	if !ok {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "no exchange mapping for futures symbol %s", sym)
	}
	return gateway.Contract{
		SecType:  gateway.SecContFuture,
		Symbol:   sym,
		Exchange: ex.Exchange,
		Currency: or(hint.Currency, or(ex.Currency, "USD")),
	}, nil
}

func fxContract(sym string) (gateway.Contract, error) {
	m := fxPairRe.FindStringSubmatch(strings.ReplaceAll(sym, " ", ""))
	if m == nil {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "invalid FX pair %q", sym)
	}
	return gateway.Contract{
		SecType:     gateway.SecCash,
		Symbol:      m[1],
		Currency:    m[2],
		LocalSymbol: m[1] + "." + m[2],
		Exchange:    "IDEALPRO",
	}, nil
}

func bondContract(sym string, hint *Hint) (gateway.Contract, error) {
	if hint.ConID <= 0 {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "bond %s requires con_id", sym)
	}
	return gateway.Contract{
		ConID:    hint.ConID,
		SecType:  gateway.SecBond,
		Symbol:   sym,
		Exchange: or(hint.Exchange, "SMART"),
		Currency: or(hint.Currency, "USD"),
	}, nil
}

func optionContract(sym string, hint *Hint) (gateway.Contract, error) {
	c := gateway.Contract{
		SecType:    gateway.SecOption,
		Symbol:     sym,
		Exchange:   or(hint.Exchange, "SMART"),
		Currency:   or(hint.Currency, "USD"),
		Multiplier: hint.Multiplier,
	}
	if hint.Right != "" {
		right, ok := domain.ParseRight(hint.Right)
		if !ok {
			return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "invalid option right %q", hint.Right)
		}
		c.Right = string(right)
	}
	if hint.ConID > 0 {
		c.ConID = hint.ConID
		return c, nil
	}

	if hint.Expiry == "" || hint.Strike == nil || c.Right == "" {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve",
			"option %s requires con_id or expiry, strike and right", sym)
	}
	underlying := strings.ToUpper(hint.Underlying)
	if underlying == "" {
		if m := occRe.FindStringSubmatch(sym); m != nil {
			underlying = m[1]
		}
	}
	if underlying == "" {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "resolve", "option %s: cannot infer underlying", sym)
	}
	c.Symbol = underlying
	if occRe.MatchString(sym) {
		c.LocalSymbol = sym
	}
	c.Expiry = strings.ReplaceAll(hint.Expiry, "-", "")
	c.Strike = *hint.Strike
	return c, nil
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
