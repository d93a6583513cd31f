package bridge

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Operation is the closed set of capabilities the bridge answers.
type Operation int

const (
	OpStrings Operation = iota
	OpSegments
	OpProcedures
	OpProcedureSignature
	OpDecompile
	OpDisassemble
	OpAllPseudocode
	OpFilePath
	OpStatus
	OpXrefs
	OpLogMessages
	OpTerminate

	opCount
)

// operationInfo is the static description of one operation.
type operationInfo struct {
	wire        string
	alias       string
	description string
	// cheap operations may skip the execution slot when the engine allows it.
	cheap bool
}

var operations = [opCount]operationInfo{
	OpStrings: {
		wire: "strings", alias: "list-strings",
		description: "List recovered string literals ordered by address. Optional: filter (CEL over address, text, segment), offset, limit.",
	},
	OpSegments: {
		wire: "segments", alias: "list-segments",
		description: "List memory segments ordered by start address.",
		cheap:       true,
	},
	OpProcedures: {
		wire: "procedures", alias: "list-procedures",
		description: "List procedures (address and name) ordered by entry address. Optional: filter (CEL over address, name), offset, limit.",
	},
	OpProcedureSignature: {
		wire: "procedure_signature", alias: "get-procedure-signature",
		description: "Get the prototype of the procedure starting at address (or named name).",
	},
	OpDecompile: {
		wire: "decompile", alias: "decompile-procedure",
		description: "Decompile the procedure starting at address (or named name) into pseudocode.",
	},
	OpDisassemble: {
		wire: "disassemble", alias: "disassemble-procedure",
		description: "Disassemble the procedure starting at address (or named name).",
	},
	OpAllPseudocode: {
		wire: "all_pseudocode", alias: "list-all-pseudocode",
		description: "Decompile every procedure. Slow on large binaries; failed entries are marked individually.",
	},
	OpFilePath: {
		wire: "filepath", alias: "list-file-path",
		description: "Get the path of the loaded binary.",
	},
	OpStatus: {
		wire: "status", alias: "get-status",
		description: "Get the session status and host process statistics.",
		cheap:       true,
	},
	OpXrefs: {
		wire: "xrefs", alias: "get-xrefs",
		description: "List cross references whose source or target is address.",
	},
	OpLogMessages: {
		wire: "log_messages", alias: "list-log-messages",
		description: "List accumulated engine log messages. Optional: since (index of the first entry to return).",
	},
	OpTerminate: {
		wire: "terminate", alias: "terminate",
		description: "End the session and shut the server down.",
	},
}

var operationsByName = func() map[string]Operation {
	m := make(map[string]Operation, 2*int(opCount))
	for op := Operation(0); op < opCount; op++ {
		m[operations[op].wire] = op
		m[operations[op].alias] = op
	}
	return m
}()

// Operations returns every operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, opCount)
	for i := range ops {
		ops[i] = Operation(i)
	}
	return ops
}

// String returns the wire name.
func (o Operation) String() string {
	if !o.valid() {
		return "unknown"
	}
	return operations[o].wire
}

// Alias returns the long descriptive name.
func (o Operation) Alias() string {
	if !o.valid() {
		return "unknown"
	}
	return operations[o].alias
}

// Description returns a one-line summary for help output and tool listings.
func (o Operation) Description() string {
	if !o.valid() {
		return ""
	}
	return operations[o].description
}

func (o Operation) valid() bool { return o >= 0 && o < opCount }

// ParseOperation resolves a wire name or alias. Unknown names yield an
// UnknownOperation error with the closest known name as a hint.
func ParseOperation(name string) (Operation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, newError(KindUnknownOperation, "operation name is empty")
	}
	if op, ok := operationsByName[name]; ok {
		return op, nil
	}
	if op, ok := operationsByName[strings.ToLower(name)]; ok {
		return op, nil
	}

	if hint := suggestOperation(name); hint != "" {
		return 0, newError(KindUnknownOperation, "unknown operation %q (did you mean %q?)", name, hint)
	}
	return 0, newError(KindUnknownOperation, "unknown operation %q", name)
}

// suggestOperation returns the closest wire name, or "" when nothing is close.
func suggestOperation(name string) string {
	lev := metrics.NewLevenshtein()
	best, bestScore := "", 0.0
	for candidate := range operationsByName {
		score := strutil.Similarity(strings.ToLower(name), candidate, lev)
		if score > bestScore || (score == bestScore && candidate < best) {
			best, bestScore = candidate, score
		}
	}
	if bestScore < 0.6 {
		return ""
	}
	return operations[operationsByName[best]].wire
}
