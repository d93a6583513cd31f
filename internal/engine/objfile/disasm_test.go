package objfile

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binbridge/binbridge/internal/engine"
)

// x86Sample at 0x1000:
//
//	push rbp; mov rbp, rsp; call 0x1009; lea rax, [rip+0x10];
//	test eax, eax; je 0x1016; xor eax, eax; ret
var x86Sample = mustHex("554889e5e800000000488d0510000000" + "85c0740231c0c3")

// arm64Sample at 0x4000:
//
//	stp x29, x30, [sp, #-16]!; mov x29, sp; bl 0x4010; cbz x0, 0x4014; nop; ret
var arm64Sample = mustHex("fd7bbfa9" + "fd030091" + "02000094" + "400000b4" + "1f2003d5" + "c0035fd6")

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func sampleSymbols(addr engine.Address) (string, engine.Address) {
	if addr == 0x1009 {
		return "callee", 0x1009
	}
	return "", 0
}

func TestDecodeX86Intel(t *testing.T) {
	insns, err := decode(archAMD64, SyntaxIntel, x86Sample, 0x1000, sampleSymbols)
	require.NoError(t, err)
	require.Len(t, insns, 8)

	assert.Equal(t, "push", insns[0].Mnemonic)
	assert.Equal(t, []string{"rbp"}, insns[0].Operands)
	assert.Equal(t, "55", insns[0].Bytes)
	assert.Equal(t, "push  rbp", insns[0].Formatted)

	assert.Equal(t, "mov", insns[1].Mnemonic)
	assert.Equal(t, []string{"rbp", "rsp"}, insns[1].Operands)
	assert.Equal(t, engine.Address(0x1001), insns[1].Address)
	assert.Equal(t, 3, insns[1].Length)

	assert.Equal(t, "call", insns[2].Mnemonic)
	assert.Equal(t, engine.XrefCall, insns[2].ref)
	assert.Equal(t, engine.Address(0x1009), insns[2].target)

	assert.Equal(t, "lea", insns[3].Mnemonic)
	assert.Equal(t, engine.XrefData, insns[3].ref)
	assert.Equal(t, engine.Address(0x1020), insns[3].target)

	assert.Equal(t, []string{"eax", "eax"}, insns[4].Operands)
	assert.False(t, insns[4].hasRef())

	assert.Contains(t, []string{"je", "jz"}, insns[5].Mnemonic)
	assert.Equal(t, engine.XrefJump, insns[5].ref)
	assert.Equal(t, engine.Address(0x1016), insns[5].target)

	assert.Equal(t, "ret", insns[7].Mnemonic)
	assert.Empty(t, insns[7].Operands)
	assert.Equal(t, engine.Address(0x1016), insns[7].Address)
}

func TestDecodeX86GNU(t *testing.T) {
	insns, err := decode(archAMD64, SyntaxGNU, x86Sample[:4], 0x1000, nil)
	require.NoError(t, err)
	require.Len(t, insns, 2)

	assert.Equal(t, []string{"%rsp", "%rbp"}, insns[1].Operands)
	// Lifting always works from Intel operand order.
	assert.Equal(t, []string{"rbp", "rsp"}, insns[1].liftArgs)
}

func TestDecodeX86BadBytes(t *testing.T) {
	// 0x06 (push es) does not exist in 64-bit mode.
	insns, err := decode(archAMD64, SyntaxIntel, []byte{0x06, 0xc3}, 0x10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, insns)

	total := 0
	for _, in := range insns {
		total += in.Length
	}
	assert.Equal(t, 2, total, "listing covers every byte")
	assert.Equal(t, "ret", insns[len(insns)-1].Mnemonic)
	assert.Equal(t, engine.Address(0x11), insns[len(insns)-1].Address)
}

func TestDecodeARM64(t *testing.T) {
	insns, err := decode(archARM64, SyntaxIntel, arm64Sample, 0x4000, nil)
	require.NoError(t, err)
	require.Len(t, insns, 6)

	assert.Equal(t, "bl", insns[2].Mnemonic)
	assert.Equal(t, engine.XrefCall, insns[2].ref)
	assert.Equal(t, engine.Address(0x4010), insns[2].target)
	assert.Equal(t, []string{"0x4010"}, insns[2].Operands)

	assert.Equal(t, "cbz", insns[3].Mnemonic)
	assert.Equal(t, engine.XrefJump, insns[3].ref)
	assert.Equal(t, engine.Address(0x4014), insns[3].target)

	assert.Equal(t, "ret", insns[5].Mnemonic)
	for i, in := range insns {
		assert.Equal(t, 4, in.Length)
		assert.Equal(t, engine.Address(0x4000+4*i), in.Address)
	}
}

func TestDecodeUnknownArch(t *testing.T) {
	_, err := decode(archUnknown, SyntaxIntel, []byte{0x90}, 0, nil)
	require.Error(t, err)
}

func TestSplitInstruction(t *testing.T) {
	tests := []struct {
		text     string
		mnemonic string
		operands []string
	}{
		{"ret", "ret", nil},
		{"mov rax, qword ptr [rbx+rcx*8+0x10]", "mov", []string{"rax", "qword ptr [rbx+rcx*8+0x10]"}},
		{"mov 0x10(%rbx,%rcx,8),%rax", "mov", []string{"0x10(%rbx,%rcx,8)", "%rax"}},
		{"lock xadd dword ptr [rdi], eax", "lock xadd", []string{"dword ptr [rdi]", "eax"}},
		{"stp x29, x30, [sp, #-16]!", "stp", []string{"x29", "x30", "[sp, #-16]!"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			mnemonic, operands := splitInstruction(tt.text)
			assert.Equal(t, tt.mnemonic, mnemonic)
			assert.Equal(t, tt.operands, operands)
		})
	}
}

func TestLiftX86(t *testing.T) {
	insns, err := decode(archAMD64, SyntaxIntel, x86Sample, 0x1000, sampleSymbols)
	require.NoError(t, err)

	l := &lifter{
		arch: archAMD64,
		sym:  sampleSymbols,
		proc: engine.Procedure{Entry: 0x1000, Name: "sample", Size: uint64(len(x86Sample))},
	}
	code := l.lift("int sample(void)", insns)

	assert.Contains(t, code, "// sample @ 0x1000\nint sample(void)\n{\n")
	assert.Contains(t, code, "    push(rbp);\n")
	assert.Contains(t, code, "    rbp = rsp;\n")
	assert.Contains(t, code, "    callee();\n")
	assert.Contains(t, code, "    if (eax == 0) goto loc_1016;\n")
	assert.Contains(t, code, "    eax = 0;\n")
	assert.Contains(t, code, "loc_1016:\n    return rax;\n}\n")
	assert.NotContains(t, code, "test")
}

func TestLiftARM64(t *testing.T) {
	insns, err := decode(archARM64, SyntaxIntel, arm64Sample, 0x4000, nil)
	require.NoError(t, err)

	l := &lifter{
		arch: archARM64,
		proc: engine.Procedure{Entry: 0x4000, Name: "f", Size: uint64(len(arm64Sample))},
	}
	code := l.lift("f()", insns)

	assert.Contains(t, code, "    0x4010();\n")
	assert.Contains(t, code, "    if (x0 == 0) goto loc_4014;\n")
	assert.Contains(t, code, "loc_4014:\n    return x0;\n")
}
