package cpapi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"ibkrfeed/internal/domain"
	"ibkrfeed/internal/gateway"
	"ibkrfeed/internal/util"
)

// ManagedAccounts lists the brokerage accounts of the logged-in user.
func (s *Session) ManagedAccounts(ctx context.Context) ([]string, error) {
	body, err := s.get(ctx, "/iserver/accounts", nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range gjson.GetBytes(body, "accounts").Array() {
		if id := a.String(); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// Positions pages through the portfolio of account, or of every managed
// account when account is empty.
func (s *Session) Positions(ctx context.Context, account string) ([]gateway.Position, error) {
	accounts := []string{account}
	if account == "" {
		var err error
		if accounts, err = s.ManagedAccounts(ctx); err != nil {
			return nil, err
		}
	}

	var out []gateway.Position
	for _, acct := range accounts {
		for page := 0; ; page++ {
			body, err := s.get(ctx, fmt.Sprintf("/portfolio/%s/positions/%d", url.PathEscape(acct), page), nil)
			if err != nil {
				return nil, err
			}
			rows := gjson.ParseBytes(body).Array()
			for _, r := range rows {
				out = append(out, gateway.Position{
					Account: or(r.Get("acctId").String(), acct),
					Contract: gateway.Contract{
						ConID:      r.Get("conid").Int(),
						SecType:    secType(r.Get("assetClass").String()),
						Symbol:     or(r.Get("ticker").String(), r.Get("contractDesc").String()),
						Currency:   r.Get("currency").String(),
						Expiry:     r.Get("expiry").String(),
						Strike:     r.Get("strike").Float(),
						Right:      r.Get("putOrCall").String(),
						Multiplier: r.Get("multiplier").String(),
					},
					Quantity:    r.Get("position").Float(),
					AvgCost:     r.Get("avgCost").Float(),
					MarketPrice: r.Get("mktPrice").Float(),
					MarketValue: r.Get("mktValue").Float(),
				})
			}
			if len(rows) < positionPageSize {
				break
			}
		}
	}
	return out, nil
}

// AccountValues returns the portfolio summary of account as tagged values.
func (s *Session) AccountValues(ctx context.Context, account string) ([]gateway.AccountValue, error) {
	body, err := s.get(ctx, fmt.Sprintf("/portfolio/%s/summary", url.PathEscape(account)), nil)
	if err != nil {
		return nil, err
	}

	var out []gateway.AccountValue
	gjson.ParseBytes(body).ForEach(func(k, v gjson.Result) bool {
		tag, ok := summaryTags[strings.ToLower(k.String())]
		if !ok {
			tag = k.String()
		}
		val := v.Get("amount")
		if !val.Exists() || val.Type == gjson.Null {
			val = v.Get("value")
		}
		if !val.Exists() || val.Type == gjson.Null {
			return true
		}
		out = append(out, gateway.AccountValue{
			Tag:      tag,
			Value:    val.String(),
			Currency: v.Get("currency").String(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// Qualify resolves c to a contract id, consulting the contract cache first.
func (s *Session) Qualify(ctx context.Context, c gateway.Contract) (gateway.Contract, error) {
	key := c.Key()
	if cc := s.d.Contracts; cc != nil {
		q, ok, err := cc.LookupContract(ctx, key, s.d.ContractMaxAge)
		switch {
		case err != nil:
			s.log.Warn("contract cache lookup failed", "key", key, "error", err)
		case ok:
			return q, nil
		}
	}

	q, err := s.qualify(ctx, c)
	if err != nil {
		return gateway.Contract{}, err
	}
	if cc := s.d.Contracts; cc != nil {
		if err := cc.SaveContract(ctx, key, q); err != nil {
			s.log.Warn("contract cache save failed", "key", key, "error", err)
		}
	}
	return q, nil
}

func (s *Session) qualify(ctx context.Context, c gateway.Contract) (gateway.Contract, error) {
	switch {
	case c.ConID > 0 && c.SecType != gateway.SecContFuture:
		info, err := s.contractInfo(ctx, c.ConID)
		if err != nil {
			return gateway.Contract{}, err
		}
		return merge(c, info), nil
	case c.SecType == gateway.SecContFuture:
		return s.frontFuture(ctx, c)
	case c.SecType == gateway.SecOption:
		return s.optionContract(ctx, c)
	}

	sym := c.Symbol
	if c.SecType == gateway.SecCash && c.LocalSymbol != "" {
		sym = c.LocalSymbol
	}
	conid, err := s.search(ctx, sym, c.SecType)
	if err != nil {
		return gateway.Contract{}, err
	}
	c.ConID = conid
	return c, nil
}

// search returns the first contract id whose sections list secType.
func (s *Session) search(ctx context.Context, symbol, secType string) (int64, error) {
	body, err := s.post(ctx, "/iserver/secdef/search", map[string]any{
		"symbol":  symbol,
		"secType": secType,
		"name":    false,
	})
	if err != nil {
		return 0, err
	}

	var fallback int64
	for _, r := range gjson.ParseBytes(body).Array() {
		conid := r.Get("conid").Int()
		if conid <= 0 {
			continue
		}
		secs := r.Get("sections").Array()
		if len(secs) == 0 && fallback == 0 {
			fallback = conid
		}
		for _, sec := range secs {
			if strings.EqualFold(sec.Get("secType").String(), secType) {
				return conid, nil
			}
		}
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, gateway.Errorf(gateway.ErrContract, "secdef search", "no security definition for %s %s", secType, symbol)
}

// frontFuture picks the nearest unexpired contract of a futures root.
func (s *Session) frontFuture(ctx context.Context, c gateway.Contract) (gateway.Contract, error) {
	body, err := s.get(ctx, "/trsrv/futures", url.Values{"symbols": {c.Symbol}})
	if err != nil {
		return gateway.Contract{}, err
	}

	today, _ := strconv.ParseInt(time.Now().UTC().Format("20060102"), 10, 64)
	var best gjson.Result
	for _, r := range gjson.GetBytes(body, gjson.Escape(c.Symbol)).Array() {
		exp := r.Get("expirationDate").Int()
		if exp < today {
			continue
		}
		if !best.Exists() || exp < best.Get("expirationDate").Int() {
			best = r
		}
	}
	if !best.Exists() {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "futures", "no security definition for futures %s", c.Symbol)
	}

	c.SecType = gateway.SecFuture
	c.ConID = best.Get("conid").Int()
	c.Expiry = best.Get("expirationDate").String()
	return c, nil
}

// optionContract finds the contract id of an option from its underlying,
// expiry, strike and right.
func (s *Session) optionContract(ctx context.Context, c gateway.Contract) (gateway.Contract, error) {
	exp, err := time.Parse("20060102", c.Expiry)
	if err != nil {
		return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "option", "invalid expiry %q", c.Expiry)
	}
	under, err := s.search(ctx, c.Symbol, gateway.SecStock)
	if err != nil {
		return gateway.Contract{}, err
	}

	body, err := s.get(ctx, "/iserver/secdef/info", url.Values{
		"conid":    {strconv.FormatInt(under, 10)},
		"sectype":  {gateway.SecOption},
		"month":    {strings.ToUpper(exp.Format("Jan06"))},
		"strike":   {strconv.FormatFloat(c.Strike, 'f', -1, 64)},
		"right":    {c.Right},
		"exchange": {or(c.Exchange, "SMART")},
	})
	if err != nil {
		return gateway.Contract{}, err
	}
	for _, r := range gjson.ParseBytes(body).Array() {
		if r.Get("maturityDate").String() == c.Expiry {
			c.ConID = r.Get("conid").Int()
			c.Multiplier = or(c.Multiplier, r.Get("multiplier").String())
			return c, nil
		}
	}
	return gateway.Contract{}, gateway.Errorf(gateway.ErrContract, "option",
		"no security definition for %s %s %v%s", c.Symbol, c.Expiry, c.Strike, c.Right)
}

func (s *Session) contractInfo(ctx context.Context, conid int64) (gjson.Result, error) {
	body, err := s.get(ctx, fmt.Sprintf("/iserver/contract/%d/info", conid), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	info := gjson.ParseBytes(body)
	if info.Get("con_id").Int() == 0 {
		return gjson.Result{}, gateway.Errorf(gateway.ErrContract, "contract info", "no security definition for conid %d", conid)
	}
	return info, nil
}

// ContractDetails qualifies c and returns its description.
func (s *Session) ContractDetails(ctx context.Context, c gateway.Contract) ([]gateway.ContractDetails, error) {
	q, err := s.Qualify(ctx, c)
	if err != nil {
		return nil, err
	}
	info, err := s.contractInfo(ctx, q.ConID)
	if err != nil {
		return nil, err
	}
	return []gateway.ContractDetails{{
		Contract: merge(q, info),
		LongName: info.Get("company_name").String(),
		MinTick:  info.Get("min_tick").Float(),
	}}, nil
}

// HistoricalBars requests bars for a qualified contract. An empty response
// is gateway.ErrNoData.
func (s *Session) HistoricalBars(ctx context.Context, c gateway.Contract, req gateway.HistoryRequest) ([]gateway.Bar, error) {
	q := url.Values{
		"conid":      {strconv.FormatInt(c.ConID, 10)},
		"period":     {durationToPeriod(req.Duration)},
		"bar":        {barToAPI(req.BarSize)},
		"outsideRth": {strconv.FormatBool(!req.UseRTH)},
		"source":     {strings.ToLower(req.WhatToShow)},
	}
	if !req.End.IsZero() {
		q.Set("startTime", req.End.UTC().Format("20060102-15:04:05"))
	}
	body, err := s.get(ctx, "/iserver/marketdata/history", q)
	if err != nil {
		return nil, err
	}

	daily := strings.Contains(req.BarSize, "day") || strings.Contains(req.BarSize, "month")
	rows := gjson.GetBytes(body, "data").Array()
	bars := make([]gateway.Bar, 0, len(rows))
	for _, r := range rows {
		t := time.UnixMilli(r.Get("t").Int()).UTC()
		if daily {
			t = domain.TruncateDay(t)
		}
		bars = append(bars, gateway.Bar{
			Time:  t,
			Open:  r.Get("o").Float(),
			High:  r.Get("h").Float(),
			Low:   r.Get("l").Float(),
			Close: r.Get("c").Float(),
		})
	}
	if len(bars) == 0 {
		return nil, gateway.Errorf(gateway.ErrNoData, "history", "no %s bars for %s", req.WhatToShow, c)
	}
	return bars, nil
}

// Quotes polls the snapshot endpoint until every contract reports a price
// or wait elapses. The first poll of a new contract usually returns nothing.
func (s *Session) Quotes(ctx context.Context, cs []gateway.Contract, wait time.Duration) ([]gateway.Quote, error) {
	out := make([]gateway.Quote, len(cs))
	if len(cs) == 0 {
		return out, nil
	}
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = strconv.FormatInt(c.ConID, 10)
	}
	q := url.Values{"conids": {strings.Join(ids, ",")}, "fields": {snapshotFields}}

	poll := s.d.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	deadline := time.Now().Add(wait)
	for {
		body, err := s.get(ctx, "/iserver/marketdata/snapshot", q)
		if err != nil {
			return nil, err
		}
		for _, row := range gjson.ParseBytes(body).Array() {
			conid := row.Get("conid").Int()
			for i, c := range cs {
				if c.ConID == conid {
					applySnapshot(&out[i], c, row)
				}
			}
		}
		if priced(out) || !time.Now().Add(poll).Before(deadline) {
			return out, nil
		}
		if err := util.Sleep(ctx, poll); err != nil {
			return out, nil
		}
	}
}

func applySnapshot(q *gateway.Quote, c gateway.Contract, row gjson.Result) {
	set := func(dst **float64, code string) {
		if v := numberField(row, code); v != nil {
			*dst = v
		}
	}
	set(&q.Last, fieldLast)
	set(&q.Bid, fieldBid)
	set(&q.Ask, fieldAsk)
	set(&q.Volume, fieldVolume)
	if !c.IsOption() {
		return
	}

	switch domain.Right(c.Right) {
	case domain.RightPut:
		set(&q.PutVolume, fieldOptVolume)
		set(&q.PutOpenInterest, fieldOpenInt)
	default:
		set(&q.CallVolume, fieldOptVolume)
		set(&q.CallOpenInterest, fieldOpenInt)
	}
	set(&q.ImpliedVol, fieldOptionIV)
	if q.Greeks == nil {
		q.Greeks = &gateway.Greeks{}
	}
	set(&q.Greeks.ImpliedVol, fieldModelIV)
	set(&q.Greeks.Delta, fieldDelta)
	set(&q.Greeks.Gamma, fieldGamma)
	set(&q.Greeks.Theta, fieldTheta)
	set(&q.Greeks.Vega, fieldVega)
}

func priced(qs []gateway.Quote) bool {
	for _, q := range qs {
		if q.Last == nil && q.Bid == nil && q.Ask == nil {
			return false
		}
	}
	return true
}

func merge(c gateway.Contract, info gjson.Result) gateway.Contract {
	c.ConID = info.Get("con_id").Int()
	c.Symbol = or(c.Symbol, info.Get("symbol").String())
	c.LocalSymbol = or(c.LocalSymbol, info.Get("local_symbol").String())
	c.Exchange = or(c.Exchange, info.Get("exchange").String())
	c.Currency = or(c.Currency, info.Get("currency").String())
	c.SecType = or(c.SecType, info.Get("instrument_type").String())
	c.Expiry = or(c.Expiry, info.Get("maturity_date").String())
	c.Multiplier = or(c.Multiplier, info.Get("multiplier").String())
	if c.Right == "" {
		if r, ok := domain.ParseRight(info.Get("right").String()); ok {
			c.Right = string(r)
		}
	}
	if c.Strike == 0 {
		c.Strike = info.Get("strike").Float()
	}
	return c
}

// secType maps the portfolio asset class to a security type.
func secType(assetClass string) string {
	switch strings.ToUpper(assetClass) {
	case "FUT", "CONTFUT":
		return gateway.SecFuture
	case "CASH":
		return gateway.SecCash
	case "BOND":
		return gateway.SecBond
	case "OPT":
		return gateway.SecOption
	case "STK":
		return gateway.SecStock
	}
	return strings.ToUpper(assetClass)
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
