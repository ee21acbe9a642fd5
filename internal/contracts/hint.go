package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ibkrfeed/internal/gateway"
)

// Hint carries optional identity details that disambiguate a symbol.
type Hint struct {
	ConID      int64    `json:"con_id,omitempty"`
	Expiry     string   `json:"expiry,omitempty"`
	Strike     *float64 `json:"strike,omitempty"`
	Right      string   `json:"right,omitempty"`
	Underlying string   `json:"underlying,omitempty"`
	Exchange   string   `json:"exchange,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	Multiplier string   `json:"multiplier,omitempty"`
}

// ParseHint decodes a JSON hint object. Empty input yields a nil hint.
func ParseHint(raw string) (*Hint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, gateway.Errorf(gateway.ErrContract, "hint", "invalid identity hint: %v", err)
	}
	return HintFromMap(m)
}

// HintFromMap builds a Hint from loosely typed values. con_id must be a
// positive integer (numbers with a fractional part, NaN and infinities are
// rejected); strike must be numeric.
func HintFromMap(m map[string]any) (*Hint, error) {
	if len(m) == 0 {
		return nil, nil
	}
	h := &Hint{}
	if v, ok := m["con_id"]; ok && v != nil {
		id, err := parseConID(v)
		if err != nil {
			return nil, err
		}
		h.ConID = id
	}
	if v, ok := m["strike"]; ok && v != nil {
		f, err := toFloat(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, gateway.Errorf(gateway.ErrContract, "hint", "invalid strike %v", v)
		}
		h.Strike = &f
	}
	h.Expiry = str(m["expiry"])
	h.Right = str(m["right"])
	h.Underlying = str(m["underlying"])
	h.Exchange = str(m["exchange"])
	h.Currency = str(m["currency"])
	h.Multiplier = str(m["multiplier"])
	return h, nil
}

func parseConID(v any) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, gateway.Errorf(gateway.ErrContract, "hint", "invalid con_id %v", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f > math.MaxInt64/2 {
		return 0, gateway.Errorf(gateway.ErrContract, "hint", "invalid con_id %v", v)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return strconv.ParseFloat(x.String(), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
