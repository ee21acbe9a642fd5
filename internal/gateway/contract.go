package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// Security types.
const (
	SecContFuture = "CONTFUT"
	SecFuture     = "FUT"
	SecCash       = "CASH"
	SecBond       = "BOND"
	SecOption     = "OPT"
	SecStock      = "STK"
)

// Contract identifies an instrument on the gateway. Resolvers fill in what
// they know; Qualify fills in ConID and anything else the gateway reports.
type Contract struct {
	ConID       int64
	SecType     string
	Symbol      string
	LocalSymbol string
	Exchange    string
	Currency    string
	Expiry      string
	Strike      float64
	Right       string
	Multiplier  string
}

// Qualified reports whether the gateway identity is known.
func (c Contract) Qualified() bool { return c.ConID > 0 }

// IsOption reports whether c is an option contract.
func (c Contract) IsOption() bool { return c.SecType == SecOption }

// Key is a stable string identity for c, used to memoize qualification.
func (c Contract) Key() string {
	if c.ConID > 0 && c.SecType != SecContFuture {
		return "conid:" + strconv.FormatInt(c.ConID, 10)
	}
	parts := []string{
		c.SecType, strings.ToUpper(c.Symbol), c.Exchange, c.Currency,
		c.Expiry, strconv.FormatFloat(c.Strike, 'f', -1, 64), c.Right, c.Multiplier,
	}
	return strings.Join(parts, "|")
}

func (c Contract) String() string {
	if c.ConID > 0 {
		return fmt.Sprintf("%s %s (conid %d)", c.SecType, c.Symbol, c.ConID)
	}
	return fmt.Sprintf("%s %s %s", c.SecType, c.Symbol, c.Exchange)
}
