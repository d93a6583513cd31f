// Package query implements the client commands: call and repl.
package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/engine"
)

// Request is a parsed command line.
type Request struct {
	Operation bridge.Operation
	Params    map[string]string
	Body      []byte
}

// ParseRequest parses "<operation> [key=value...] [target]". A bare target
// is an address when it is 0x-prefixed hex and a procedure name otherwise,
// so names like "add" stay names.
func ParseRequest(args []string) (*Request, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing operation")
	}
	op, err := bridge.ParseOperation(args[0])
	if err != nil {
		return nil, err
	}

	req := &Request{Operation: op, Params: map[string]string{}}
	target := ""
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			if target != "" {
				return nil, fmt.Errorf("unexpected argument %q (already targeting %q)", arg, target)
			}
			target = arg
			continue
		}
		if key == "" {
			return nil, fmt.Errorf("invalid argument %q: empty key", arg)
		}
		req.Params[key] = value
	}

	if target != "" {
		if _, err := engine.ParseAddress(target); err == nil && strings.HasPrefix(strings.ToLower(target), "0x") {
			req.Params["address"] = target
		} else {
			req.Params["name"] = target
		}
	}
	return req, nil
}

// BatchBody encodes addresses as a batch decompile/disassemble body.
func BatchBody(addresses []string) ([]byte, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string][]string{"addresses": addresses})
}
