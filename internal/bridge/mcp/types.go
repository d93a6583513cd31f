package mcp

// Input types for MCP tools. They describe the tool schemas; arguments are
// decoded loosely and validated by the bridge.
// Optional fields use pointers to allow nil values.

// ListInput is the input for binbridge_strings and binbridge_procedures.
type ListInput struct {
	Filter *string `json:"filter,omitempty" jsonschema:"description=Optional: CEL expression over the entry fields (e.g. 'address >= 0x1000u')"`
	Offset *int    `json:"offset,omitempty" jsonschema:"description=Optional: Number of entries to skip,minimum=0"`
	Limit  *int    `json:"limit,omitempty" jsonschema:"description=Optional: Maximum number of entries to return,minimum=0"`
}

// ProcedureInput selects one procedure by entry address or by name.
type ProcedureInput struct {
	Address any     `json:"address,omitempty" jsonschema:"oneof_type=string;integer,description=Entry address in hex (e.g. '0x401000') or as a number"`
	Name    *string `json:"name,omitempty" jsonschema:"description=Procedure name; used when address is not given"`
}

// CodeInput is the input for binbridge_decompile and binbridge_disassemble.
type CodeInput struct {
	Address   any      `json:"address,omitempty" jsonschema:"oneof_type=string;integer,description=Entry address in hex (e.g. '0x401000') or as a number"`
	Name      *string  `json:"name,omitempty" jsonschema:"description=Procedure name; used when address is not given"`
	Addresses []string `json:"addresses,omitempty" jsonschema:"description=Optional: Several entry addresses at once; each result carries its own status"`
}

// XrefsInput is the input for binbridge_xrefs.
type XrefsInput struct {
	Address any `json:"address" jsonschema:"oneof_type=string;integer,description=Address in hex or as a number (required)"`
}

// LogMessagesInput is the input for binbridge_log_messages.
type LogMessagesInput struct {
	Since *int `json:"since,omitempty" jsonschema:"description=Optional: Index of the first entry to return,minimum=0"`
}

// NoInput is the input of tools without parameters.
type NoInput struct{}
