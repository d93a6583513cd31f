package objfile

import (
	"fmt"
	"strings"

	"github.com/binbridge/binbridge/internal/engine"
)

// lifter turns a linear instruction listing into C-like pseudocode. It does
// no data-flow analysis: each instruction becomes one statement, branch
// targets inside the procedure become labels, and conditional jumps borrow
// their condition from the last compare.
type lifter struct {
	arch  arch
	sym   symLookup
	proc  engine.Procedure
	flags *compare
}

type compare struct {
	op   string
	a, b string
}

var x86Conditions = map[string]string{
	"je": "==", "jz": "==", "jne": "!=", "jnz": "!=",
	"jl": "<", "jnge": "<", "jle": "<=", "jng": "<=",
	"jg": ">", "jnle": ">", "jge": ">=", "jnl": ">=",
	"jb": "<", "jnae": "<", "jc": "<", "jbe": "<=", "jna": "<=",
	"ja": ">", "jnbe": ">", "jae": ">=", "jnb": ">=", "jnc": ">=",
}

var arm64Conditions = map[string]string{
	"eq": "==", "ne": "!=",
	"lt": "<", "le": "<=", "gt": ">", "ge": ">=",
	"lo": "<", "cc": "<", "ls": "<=", "hi": ">", "hs": ">=", "cs": ">=",
}

var binaryOps = map[string]string{
	"add": "+", "sub": "-", "and": "&", "or": "|", "orr": "|", "xor": "^", "eor": "^",
	"imul": "*", "mul": "*", "shl": "<<", "sal": "<<", "lsl": "<<", "shr": ">>", "sar": ">>",
	"lsr": ">>", "asr": ">>", "sdiv": "/", "udiv": "/",
}

// lift renders proc. header is the prototype line.
func (l *lifter) lift(header string, insns []insn) string {
	labels := make(map[engine.Address]bool)
	for _, in := range insns {
		if in.ref == engine.XrefJump && l.inside(in.target) {
			labels[in.target] = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s @ %s\n", l.proc.Name, l.proc.Entry)
	b.WriteString(header)
	b.WriteString("\n{\n")
	for _, in := range insns {
		if labels[in.Address] {
			fmt.Fprintf(&b, "%s:\n", labelName(in.Address))
		}
		stmt := l.statement(in)
		if stmt == "" {
			continue
		}
		fmt.Fprintf(&b, "    %s\n", stmt)
	}
	b.WriteString("}\n")
	return b.String()
}

func (l *lifter) inside(addr engine.Address) bool {
	return addr >= l.proc.Entry && uint64(addr-l.proc.Entry) < l.proc.Size
}

func labelName(addr engine.Address) string {
	return fmt.Sprintf("loc_%x", uint64(addr))
}

func (l *lifter) target(in insn) string {
	if l.inside(in.target) && in.ref == engine.XrefJump {
		return labelName(in.target)
	}
	return labelFor(in.target, l.sym)
}

func (l *lifter) returnRegister() string {
	switch l.arch {
	case archARM64:
		return "x0"
	case arch386:
		return "eax"
	default:
		return "rax"
	}
}

func (l *lifter) statement(in insn) string {
	op, args := in.liftOp, in.liftArgs
	if op == "(bad)" {
		return fmt.Sprintf("__undefined(/* %s */);", in.Bytes)
	}

	switch {
	case op == "nop" || op == "endbr64" || op == "endbr32" || op == "int3" || op == "hint" || op == "bti":
		return ""
	case op == "ret" || op == "retq":
		return fmt.Sprintf("return %s;", l.returnRegister())
	case op == "call" || op == "bl":
		if in.ref == engine.XrefCall {
			return l.target(in) + "();"
		}
		return fmt.Sprintf("(*%s)();", operand(args, 0))
	case op == "blr":
		return fmt.Sprintf("(*%s)();", operand(args, 0))
	case op == "jmp" || op == "b" || op == "br":
		if in.hasRef() {
			return fmt.Sprintf("goto %s;", l.target(in))
		}
		return fmt.Sprintf("goto *%s;", operand(args, 0))
	case op == "cmp" || op == "test" || op == "cmn" || op == "tst":
		l.flags = &compare{op: op, a: operand(args, 0), b: operand(args, 1)}
		return ""
	case op == "cbz" || op == "cbnz":
		rel := "=="
		if op == "cbnz" {
			rel = "!="
		}
		return fmt.Sprintf("if (%s %s 0) goto %s;", operand(args, 0), rel, l.target(in))
	case op == "tbz" || op == "tbnz":
		rel := "=="
		if op == "tbnz" {
			rel = "!="
		}
		return fmt.Sprintf("if ((%s & (1 << %s)) %s 0) goto %s;", operand(args, 0), strings.TrimPrefix(operand(args, 1), "#"), rel, l.target(in))
	case in.ref == engine.XrefJump:
		return fmt.Sprintf("if (%s) goto %s;", l.condition(op), l.target(in))
	case op == "push":
		return fmt.Sprintf("push(%s);", operand(args, 0))
	case op == "pop":
		return fmt.Sprintf("%s = pop();", operand(args, 0))
	case op == "inc":
		return operand(args, 0) + "++;"
	case op == "dec":
		return operand(args, 0) + "--;"
	case op == "neg":
		return fmt.Sprintf("%s = -%s;", operand(args, 0), operand(args, 0))
	case op == "not" || op == "mvn":
		return fmt.Sprintf("%s = ~%s;", operand(args, 0), operand(args, len(args)-1))
	case op == "lea":
		return fmt.Sprintf("%s = &%s;", operand(args, 0), memory(operand(args, 1)))
	case op == "adr" || op == "adrp":
		return fmt.Sprintf("%s = %s;", operand(args, 0), labelFor(in.target, l.sym))
	case strings.HasPrefix(op, "mov") && len(args) == 2:
		return fmt.Sprintf("%s = %s;", lvalue(args[0]), rvalue(args[1]))
	case strings.HasPrefix(op, "ldr") && len(args) == 2:
		return fmt.Sprintf("%s = *(%s);", operand(args, 0), memory(args[1]))
	case strings.HasPrefix(op, "str") && len(args) == 2:
		return fmt.Sprintf("*(%s) = %s;", memory(args[1]), operand(args, 0))
	case op == "xor" && len(args) == 2 && args[0] == args[1]:
		return fmt.Sprintf("%s = 0;", args[0])
	}

	if sym, ok := binaryOps[op]; ok {
		switch len(args) {
		case 2:
			return fmt.Sprintf("%s %s= %s;", lvalue(args[0]), sym, rvalue(args[1]))
		case 3:
			return fmt.Sprintf("%s = %s %s %s;", args[0], args[1], sym, rvalue(args[2]))
		}
	}

	return fmt.Sprintf("__asm(%q);", in.Formatted)
}

// condition renders the jump condition from the last compare.
func (l *lifter) condition(op string) string {
	rel, ok := x86Conditions[op]
	if !ok && strings.HasPrefix(op, "b.") {
		rel, ok = arm64Conditions[strings.TrimPrefix(op, "b.")]
	}
	if !ok || l.flags == nil {
		return fmt.Sprintf("/* %s */ flags", op)
	}
	a, b := l.flags.a, l.flags.b
	switch l.flags.op {
	case "test", "tst":
		if a == b {
			return fmt.Sprintf("%s %s 0", a, rel)
		}
		return fmt.Sprintf("(%s & %s) %s 0", a, b, rel)
	case "cmn":
		return fmt.Sprintf("%s %s -%s", a, rel, rvalue(b))
	default:
		return fmt.Sprintf("%s %s %s", a, rel, rvalue(b))
	}
}

func operand(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return "?"
	}
	return args[i]
}

// memory strips Intel size qualifiers and brackets from a memory operand.
func memory(op string) string {
	if i := strings.Index(op, " ptr "); i >= 0 {
		op = op[i+len(" ptr "):]
	}
	op = strings.TrimSuffix(op, "!")
	op = strings.TrimSuffix(strings.TrimPrefix(op, "["), "]")
	return strings.ReplaceAll(op, ", ", " + ")
}

func isMemory(op string) bool {
	return strings.Contains(op, "[")
}

func lvalue(op string) string {
	if isMemory(op) {
		return "*(" + memory(op) + ")"
	}
	return op
}

func rvalue(op string) string {
	if isMemory(op) {
		return "*(" + memory(op) + ")"
	}
	return strings.TrimPrefix(op, "#")
}
