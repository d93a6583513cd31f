package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Address is a virtual address in the loaded binary.
type Address uint64

// String formats the address as 0x-prefixed lowercase hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// MarshalText encodes the address in the same hex form callers send it in.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts hex with or without the 0x prefix.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses hexadecimal address text. A leading 0x/0X is optional.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return 0, fmt.Errorf("empty address %q", s)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed address %q: %w", s, err)
	}
	return Address(v), nil
}

// Range is a half-open address interval [Start, End).
type Range struct {
	Start Address
	End   Address
}

// Everything covers the whole 64-bit address space.
var Everything = Range{Start: 0, End: math.MaxUint64}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr Address) bool {
	return r.Start <= addr && addr < r.End
}

// Overlaps reports whether [start, start+length) intersects the range.
func (r Range) Overlaps(start Address, length uint64) bool {
	end := Address(uint64(start) + length)
	if length == 0 {
		return r.Contains(start)
	}
	return start < r.End && r.Start < end
}

// Segment is a named contiguous memory range.
type Segment struct {
	Name        string  `json:"name"`
	Start       Address `json:"start"`
	Length      uint64  `json:"length"`
	Permissions string  `json:"permissions"`
	Type        string  `json:"type,omitempty"`
}

// End returns the first address past the segment.
func (s Segment) End() Address {
	return Address(uint64(s.Start) + s.Length)
}

// Contains reports whether addr is inside the segment.
func (s Segment) Contains(addr Address) bool {
	return s.Start <= addr && addr < s.End()
}

// Procedure is a function in the binary, identified by its entry address.
type Procedure struct {
	Entry Address `json:"address"`
	Name  string  `json:"name"`
	// Size is zero when the extent is unknown.
	Size uint64 `json:"-"`
}

// Parameter is one recovered formal parameter.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Signature is a procedure prototype. Recovered is false when the engine
// had no type information and synthesized the text from the name alone.
type Signature struct {
	Address    Address     `json:"address"`
	Name       string      `json:"name"`
	ReturnType string      `json:"return_type,omitempty"`
	Parameters []Parameter `json:"parameters"`
	Text       string      `json:"text"`
	Recovered  bool        `json:"recovered"`
}

// StringLiteral is a recovered string constant.
type StringLiteral struct {
	Address Address `json:"address"`
	Text    string  `json:"text"`
	Length  int     `json:"length"`
	Segment string  `json:"segment"`
}

// Instruction is one disassembled instruction.
type Instruction struct {
	Address   Address  `json:"address"`
	Bytes     string   `json:"bytes"`
	Mnemonic  string   `json:"mnemonic"`
	Operands  []string `json:"operands"`
	Length    int      `json:"length"`
	Formatted string   `json:"text"`
}

// XrefKind classifies a cross reference.
type XrefKind string

const (
	XrefCall XrefKind = "call"
	XrefJump XrefKind = "jump"
	XrefData XrefKind = "data"
)

// Xref is a directed reference between two addresses.
type Xref struct {
	Source Address  `json:"source"`
	Target Address  `json:"target"`
	Kind   XrefKind `json:"kind"`
}

// Status is the engine's analysis state.
type Status int

const (
	StatusUnloaded Status = iota
	StatusLoading
	StatusAnalyzing
	StatusReady
	StatusTerminated
)

var statusNames = [...]string{
	StatusUnloaded:   "unloaded",
	StatusLoading:    "loading",
	StatusAnalyzing:  "analyzing",
	StatusReady:      "ready",
	StatusTerminated: "terminated",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
