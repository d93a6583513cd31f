package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/binbridge/binbridge/internal/engine"
)

// Params is the request parameter mapping. Values are strings or numbers;
// numbers decoded from JSON arrive as float64 or json.Number.
type Params map[string]any

// Request is one call into the bridge.
type Request struct {
	ID        string
	Operation Operation
	Params    Params
	Body      []byte
}

// Has reports whether key is present with a non-empty value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value of key as text.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// Address parses key as an address. Text is read as hex; non-negative
// integral numbers are taken at face value.
func (p Params) Address(key string) (engine.Address, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, InvalidArgument("missing required parameter %q", key)
	}

	switch val := v.(type) {
	case string:
		addr, err := engine.ParseAddress(val)
		if err != nil {
			return 0, InvalidArgument("parameter %q: %v", key, err)
		}
		return addr, nil
	case engine.Address:
		return val, nil
	case json.Number:
		if u, err := strconv.ParseUint(val.String(), 10, 64); err == nil {
			return engine.Address(u), nil
		}
		return 0, InvalidArgument("parameter %q: %s is not a valid address", key, val)
	case float64:
		if val < 0 || val != math.Trunc(val) || val >= math.MaxUint64 {
			return 0, InvalidArgument("parameter %q: %v is not a valid address", key, val)
		}
		return engine.Address(val), nil
	case int:
		if val < 0 {
			return 0, InvalidArgument("parameter %q: %d is not a valid address", key, val)
		}
		return engine.Address(val), nil
	case int64:
		if val < 0 {
			return 0, InvalidArgument("parameter %q: %d is not a valid address", key, val)
		}
		return engine.Address(val), nil
	case uint64:
		return engine.Address(val), nil
	default:
		return 0, InvalidArgument("parameter %q: unsupported type %T", key, v)
	}
}

// Int parses key as a decimal integer, clamping values outside the int
// range. ok is false when the key is absent.
func (p Params) Int(key string) (n int, ok bool, err error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}

	switch val := v.(type) {
	case int:
		return val, true, nil
	case int64:
		return int(val), true, nil
	case float64:
		if val != math.Trunc(val) {
			return 0, true, InvalidArgument("parameter %q: %v is not an integer", key, val)
		}
		switch {
		case val >= math.MaxInt:
			return math.MaxInt, true, nil
		case val <= math.MinInt:
			return math.MinInt, true, nil
		}
		return int(val), true, nil
	case json.Number:
		i, ok := atoiClamped(val.String())
		if !ok {
			return 0, true, InvalidArgument("parameter %q: %s is not an integer", key, val)
		}
		return i, true, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false, nil
		}
		i, ok := atoiClamped(s)
		if !ok {
			return 0, true, InvalidArgument("parameter %q: %q is not an integer", key, val)
		}
		return i, true, nil
	default:
		return 0, true, InvalidArgument("parameter %q: unsupported type %T", key, v)
	}
}

// atoiClamped parses a decimal integer. Values outside the int range are
// clamped to its bounds, so an index far past the end stays out of range
// instead of becoming a parse error.
func atoiClamped(s string) (int, bool) {
	i, err := strconv.Atoi(s)
	if err == nil {
		return i, true
	}
	var numErr *strconv.NumError
	if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
		// Atoi reports the nearest bound alongside ErrRange.
		return i, true
	}
	return 0, false
}

// page applies offset/limit parameters to a slice length, returning bounds.
func (p Params) page(total int) (lo, hi int, err error) {
	offset, _, err := p.Int("offset")
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, InvalidArgument("parameter \"offset\" must not be negative")
	}
	limit, hasLimit, err := p.Int("limit")
	if err != nil {
		return 0, 0, err
	}
	if hasLimit && limit < 0 {
		return 0, 0, InvalidArgument("parameter \"limit\" must not be negative")
	}

	lo = min(offset, total)
	hi = total
	if hasLimit && limit < total-lo {
		hi = lo + limit
	}
	return lo, hi, nil
}

// batchBody is the optional body of batch decompile/disassemble requests.
type batchBody struct {
	Addresses []string `json:"addresses"`
}

// batchAddresses decodes a batch body. ok is false when the body is empty or
// carries no address list.
func batchAddresses(body []byte) (addrs []engine.Address, ok bool, err error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, false, nil
	}

	var list []string
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, true, InvalidArgument("body: %v", err)
		}
	} else {
		var b batchBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, true, InvalidArgument("body: %v", err)
		}
		if b.Addresses == nil {
			return nil, false, nil
		}
		list = b.Addresses
	}

	addrs = make([]engine.Address, 0, len(list))
	for i, s := range list {
		a, perr := engine.ParseAddress(s)
		if perr != nil {
			return nil, true, InvalidArgument("body: addresses[%d]: %v", i, perr)
		}
		addrs = append(addrs, a)
	}
	return addrs, true, nil
}
