package cpapi

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Snapshot field codes.
const (
	fieldLast        = "31"
	fieldBid         = "84"
	fieldAsk         = "86"
	fieldVolume      = "87"
	fieldOptionIV    = "7283"
	fieldDelta       = "7308"
	fieldGamma       = "7309"
	fieldTheta       = "7310"
	fieldVega        = "7311"
	fieldModelIV     = "7633"
	fieldOpenInt     = "7638"
	fieldOptVolume   = "7089"
	snapshotFields   = "31,84,86,87,7283,7308,7309,7310,7311,7633,7638,7089"
	positionPageSize = 100
)

// summaryTags maps the portfolio summary keys to account value tags.
var summaryTags = map[string]string{
	"netliquidation":     "NetLiquidation",
	"totalcashvalue":     "TotalCashValue",
	"buyingpower":        "BuyingPower",
	"grosspositionvalue": "GrossPositionValue",
	"maintmarginreq":     "MaintMarginReq",
	"availablefunds":     "AvailableFunds",
	"excessliquidity":    "ExcessLiquidity",
	"sma":                "SMA",
}

// parseNumber decodes a snapshot value such as "C1.25", "H101.5", "1.2M",
// "23.4%" or "1,024". Percentages are returned as fractions. ok is false
// for anything else.
func parseNumber(raw string) (v float64, ok bool) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	// C = previous close, H = halted.
	s = strings.TrimLeft(s, "CH")
	if s == "" {
		return 0, false
	}

	scale, percent := 1.0, false
	switch s[len(s)-1] {
	case '%':
		percent = true
	case 'K':
		scale = 1e3
	case 'M':
		scale = 1e6
	case 'B':
		scale = 1e9
	}
	if scale != 1 || percent {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if percent {
		return f / 100, true
	}
	return f * scale, true
}

func numberField(obj gjson.Result, code string) *float64 {
	r := obj.Get(code)
	if !r.Exists() {
		return nil
	}
	var (
		v  float64
		ok bool
	)
	if r.Type == gjson.Number {
		v, ok = r.Float(), true
	} else {
		v, ok = parseNumber(r.String())
	}
	if !ok {
		return nil
	}
	return &v
}

// durationToPeriod converts "2 Y" into the API's "2y".
func durationToPeriod(d string) string {
	f := strings.Fields(strings.ToLower(d))
	if len(f) != 2 {
		return strings.ToLower(strings.ReplaceAll(d, " ", ""))
	}
	return f[0] + f[1]
}

// barToAPI converts "1 day" or "1 month" into the API's bar notation.
func barToAPI(bar string) string {
	f := strings.Fields(strings.ToLower(bar))
	if len(f) != 2 {
		return strings.ToLower(bar)
	}
	n, unit := f[0], strings.TrimSuffix(f[1], "s")
	switch unit {
	case "month":
		return n + "m"
	case "week":
		return n + "w"
	case "day":
		return n + "d"
	case "hour":
		return n + "h"
	case "min":
		return n + "min"
	}
	return n + unit
}
