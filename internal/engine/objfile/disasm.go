package objfile

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/binbridge/binbridge/internal/engine"
)

// Syntax selects the x86 assembly dialect.
type Syntax string

const (
	SyntaxIntel Syntax = "intel"
	SyntaxGNU   Syntax = "gnu"
)

// insn is a decoded instruction plus what the lifter and the xref indexer
// need from it. The lift fields always use Intel operand order on x86.
type insn struct {
	engine.Instruction
	liftOp   string
	liftArgs []string
	target   engine.Address
	ref      engine.XrefKind
}

func (in *insn) hasRef() bool { return in.ref != "" }

// symLookup names an address for operand rendering.
type symLookup func(engine.Address) (string, engine.Address)

// decode disassembles code linearly starting at pc. Undecodable bytes become
// "(bad)" entries so the listing always covers the whole range.
func decode(a arch, syntax Syntax, code []byte, pc engine.Address, sym symLookup) ([]insn, error) {
	switch a {
	case archAMD64:
		return decodeX86(64, syntax, code, pc, sym), nil
	case arch386:
		return decodeX86(32, syntax, code, pc, sym), nil
	case archARM64:
		return decodeARM64(code, pc, sym), nil
	default:
		return nil, fmt.Errorf("no disassembler for architecture %s", a)
	}
}

func decodeX86(mode int, syntax Syntax, code []byte, pc engine.Address, sym symLookup) []insn {
	lookup := func(addr uint64) (string, uint64) {
		if sym == nil {
			return "", 0
		}
		name, base := sym(engine.Address(addr))
		return name, uint64(base)
	}

	var out []insn
	for off := 0; off < len(code); {
		addr := pc + engine.Address(off)
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil || inst.Len == 0 {
			out = append(out, badInsn(addr, code[off:off+1]))
			off++
			continue
		}
		raw := code[off : off+inst.Len]
		next := addr + engine.Address(inst.Len)

		intel := x86asm.IntelSyntax(inst, uint64(addr), lookup)
		text := intel
		if syntax == SyntaxGNU {
			text = x86asm.GNUSyntax(inst, uint64(addr), lookup)
		}
		mnemonic, operands := splitInstruction(text)
		liftOp, liftArgs := splitInstruction(intel)

		in := insn{
			Instruction: engine.Instruction{
				Address:   addr,
				Bytes:     hex.EncodeToString(raw),
				Mnemonic:  mnemonic,
				Operands:  operands,
				Length:    inst.Len,
				Formatted: formatInstruction(mnemonic, operands),
			},
			liftOp:   liftOp,
			liftArgs: liftArgs,
		}

		for _, arg := range inst.Args {
			if arg == nil {
				break
			}
			switch v := arg.(type) {
			case x86asm.Rel:
				in.target = next + engine.Address(int64(v))
				in.ref = engine.XrefJump
				if liftOp == "call" {
					in.ref = engine.XrefCall
				}
			case x86asm.Mem:
				if in.hasRef() {
					continue
				}
				switch {
				case v.Base == x86asm.RIP:
					in.target = next + engine.Address(v.Disp)
					in.ref = engine.XrefData
				case mode == 32 && v.Base == 0 && v.Index == 0 && v.Disp > 0:
					in.target = engine.Address(uint32(v.Disp))
					in.ref = engine.XrefData
				}
			}
		}

		out = append(out, in)
		off += inst.Len
	}
	return out
}

func decodeARM64(code []byte, pc engine.Address, sym symLookup) []insn {
	var out []insn
	for off := 0; off+4 <= len(code); off += 4 {
		addr := pc + engine.Address(off)
		raw := code[off : off+4]
		inst, err := arm64asm.Decode(raw)
		if err != nil {
			out = append(out, badInsn(addr, raw))
			continue
		}

		mnemonic, operands := splitInstruction(strings.ToLower(arm64asm.GNUSyntax(inst)))
		in := insn{
			Instruction: engine.Instruction{
				Address:  addr,
				Bytes:    hex.EncodeToString(raw),
				Mnemonic: mnemonic,
				Operands: operands,
				Length:   4,
			},
			liftOp:   mnemonic,
			liftArgs: operands,
		}

		for _, arg := range inst.Args {
			if arg == nil {
				break
			}
			rel, ok := arg.(arm64asm.PCRel)
			if !ok {
				continue
			}
			switch {
			case mnemonic == "adrp":
				in.target = (addr &^ 0xfff) + engine.Address(int64(rel))
				in.ref = engine.XrefData
			case mnemonic == "adr" || strings.HasPrefix(mnemonic, "ldr"):
				in.target = addr + engine.Address(int64(rel))
				in.ref = engine.XrefData
			case mnemonic == "bl":
				in.target = addr + engine.Address(int64(rel))
				in.ref = engine.XrefCall
			default:
				in.target = addr + engine.Address(int64(rel))
				in.ref = engine.XrefJump
			}
		}

		// Show branch targets as addresses rather than PC offsets.
		if in.ref == engine.XrefCall || in.ref == engine.XrefJump {
			for i, op := range in.Operands {
				if strings.HasPrefix(op, ".+") || strings.HasPrefix(op, ".-") {
					in.Operands[i] = labelFor(in.target, sym)
				}
			}
		}
		in.Formatted = formatInstruction(in.Mnemonic, in.Operands)
		out = append(out, in)
	}
	return out
}

func badInsn(addr engine.Address, raw []byte) insn {
	return insn{
		Instruction: engine.Instruction{
			Address:   addr,
			Bytes:     hex.EncodeToString(raw),
			Mnemonic:  "(bad)",
			Length:    len(raw),
			Formatted: "(bad)",
		},
		liftOp: "(bad)",
	}
}

// labelFor renders a code address as a symbol when one is known.
func labelFor(addr engine.Address, sym symLookup) string {
	if sym != nil {
		if name, base := sym(addr); name != "" {
			if base == addr {
				return name
			}
			return name + "+" + (addr - base).String()
		}
	}
	return addr.String()
}

var x86Prefixes = map[string]bool{
	"lock": true, "rep": true, "repe": true, "repz": true, "repne": true, "repnz": true,
	"data16": true, "addr32": true, "bnd": true, "notrack": true, "xacquire": true, "xrelease": true,
}

// splitInstruction separates the mnemonic, with any x86 prefixes, from the
// comma-separated operands. Commas inside brackets or parentheses belong to
// a memory operand.
func splitInstruction(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	n := 1
	for n < len(fields) && x86Prefixes[fields[n-1]] {
		n++
	}
	mnemonic := strings.Join(fields[:n], " ")
	rest := strings.TrimSpace(strings.Join(fields[n:], " "))
	if rest == "" {
		return mnemonic, nil
	}

	var operands []string
	depth, start := 0, 0
	for i, c := range rest {
		switch c {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				operands = append(operands, strings.TrimSpace(rest[start:i]))
				start = i + 1
			}
		}
	}
	operands = append(operands, strings.TrimSpace(rest[start:]))
	return mnemonic, operands
}

// formatInstruction joins a mnemonic and operands as "mnemonic  op, op".
func formatInstruction(mnemonic string, operands []string) string {
	if len(operands) == 0 {
		return mnemonic
	}
	return mnemonic + "  " + strings.Join(operands, ", ")
}
