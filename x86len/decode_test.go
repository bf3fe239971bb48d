package x86len

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

var vectors = []struct {
	name string
	code []byte
}{
	{"push rbp", []byte{0x55}},
	{"push r12", []byte{0x41, 0x54}},
	{"mov rbp, rsp", []byte{0x48, 0x89, 0xE5}},
	{"sub rsp, imm32", []byte{0x48, 0x81, 0xEC, 0x28, 0x01, 0x00, 0x00}},
	{"sub rsp, imm8", []byte{0x48, 0x83, 0xEC, 0x28}},
	{"mov [rsp+8], rbx", []byte{0x48, 0x89, 0x5C, 0x24, 0x08}},
	{"mov rax, [rip+disp32]", []byte{0x48, 0x8B, 0x05, 0x11, 0x22, 0x33, 0x44}},
	{"lea rcx, [rip+disp32]", []byte{0x48, 0x8D, 0x0D, 0x11, 0x22, 0x33, 0x44}},
	{"mov eax, [disp32] via sib", []byte{0x8B, 0x04, 0x25, 0x11, 0x22, 0x33, 0x44}},
	{"mov rax, [rbp+rcx*8+disp32]", []byte{0x48, 0x8B, 0x84, 0xCD, 0x00, 0x01, 0x00, 0x00}},
	{"mov rax, imm64", []byte{0x48, 0xB8, 1, 2, 3, 4, 5, 6, 7, 8}},
	{"mov eax, imm32", []byte{0xB8, 1, 2, 3, 4}},
	{"mov ax, imm16", []byte{0x66, 0xB8, 1, 2}},
	{"mov al, moffs64", []byte{0xA0, 1, 2, 3, 4, 5, 6, 7, 8}},
	{"mov rax, moffs64", []byte{0x48, 0xA1, 1, 2, 3, 4, 5, 6, 7, 8}},
	{"mov eax, moffs32", []byte{0x67, 0xA1, 1, 2, 3, 4}},
	{"add ax, imm16", []byte{0x66, 0x05, 0x34, 0x12}},
	{"add eax, imm32", []byte{0x05, 0x78, 0x56, 0x34, 0x12}},
	{"mov word [rax], imm16", []byte{0x66, 0xC7, 0x00, 0x34, 0x12}},
	{"mov dword [rax], imm32", []byte{0xC7, 0x00, 0x78, 0x56, 0x34, 0x12}},
	{"test al, imm8", []byte{0xF6, 0xC0, 0x01}},
	{"test dword [rbx+8], imm32", []byte{0xF7, 0x43, 0x08, 1, 2, 3, 4}},
	{"test r/m16, imm16", []byte{0x66, 0xF7, 0xC0, 0x34, 0x12}},
	{"add rax, imm32 with 66", []byte{0x66, 0x48, 0x05, 0x78, 0x56, 0x34, 0x12}},
	{"sub rsp, imm32 with 66", []byte{0x66, 0x48, 0x81, 0xEC, 0x28, 0x01, 0x00, 0x00}},
	{"mov qword [rax], imm32 with 66", []byte{0x66, 0x48, 0xC7, 0x00, 0x78, 0x56, 0x34, 0x12}},
	{"test rax, imm32 with 66", []byte{0x66, 0x48, 0xF7, 0xC0, 0x78, 0x56, 0x34, 0x12}},
	{"mov rax, imm64 with 66", []byte{0x66, 0x48, 0xB8, 1, 2, 3, 4, 5, 6, 7, 8}},
	{"neg rax", []byte{0x48, 0xF7, 0xD8}},
	{"div byte [rcx]", []byte{0xF6, 0x31}},
	{"imul eax, ecx, imm32", []byte{0x69, 0xC1, 1, 2, 3, 4}},
	{"shl rax, 4", []byte{0x48, 0xC1, 0xE0, 0x04}},
	{"call rel32", []byte{0xE8, 0x00, 0x00, 0x00, 0x00}},
	{"jmp rel32", []byte{0xE9, 0x00, 0x10, 0x00, 0x00}},
	{"jmp rel8", []byte{0xEB, 0x10}},
	{"jz rel8", []byte{0x74, 0x10}},
	{"jz rel32", []byte{0x0F, 0x84, 0x10, 0x00, 0x00, 0x00}},
	{"call [rip+disp32]", []byte{0xFF, 0x15, 0x10, 0x00, 0x00, 0x00}},
	{"jmp rax", []byte{0xFF, 0xE0}},
	{"ret", []byte{0xC3}},
	{"ret imm16", []byte{0xC2, 0x08, 0x00}},
	{"int3", []byte{0xCC}},
	{"nop", []byte{0x90}},
	{"nop dword [rax+rax]", []byte{0x0F, 0x1F, 0x44, 0x00, 0x00}},
	{"nop word cs:[rax+rax+disp32]", []byte{0x66, 0x2E, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00}},
	{"lock xadd [rdi], eax", []byte{0xF0, 0x0F, 0xC1, 0x07}},
	{"lock cmpxchg [rdx], ecx", []byte{0xF0, 0x0F, 0xB1, 0x0A}},
	{"movzx eax, byte [rcx]", []byte{0x0F, 0xB6, 0x01}},
	{"movsx eax, word [rcx+8]", []byte{0x0F, 0xBF, 0x41, 0x08}},
	{"movsxd rax, ecx", []byte{0x48, 0x63, 0xC1}},
	{"cmovz eax, ecx", []byte{0x0F, 0x44, 0xC1}},
	{"setnz al", []byte{0x0F, 0x95, 0xC0}},
	{"bt eax, 3", []byte{0x0F, 0xBA, 0xE0, 0x03}},
	{"imul eax, ecx", []byte{0x0F, 0xAF, 0xC1}},
	{"movaps [rsp+0x20], xmm6", []byte{0x0F, 0x29, 0x74, 0x24, 0x20}},
	{"movss xmm0, [rip+disp32]", []byte{0xF3, 0x0F, 0x10, 0x05, 1, 2, 3, 4}},
	{"movsd xmm0, xmm1", []byte{0xF2, 0x0F, 0x10, 0xC1}},
	{"xorps xmm0, xmm0", []byte{0x0F, 0x57, 0xC0}},
	{"movdqu xmm0, [rax]", []byte{0xF3, 0x0F, 0x6F, 0x00}},
	{"rep stosb", []byte{0xF3, 0xAA}},
	{"mov rax, gs:[0x30]", []byte{0x65, 0x48, 0x8B, 0x04, 0x25, 0x30, 0x00, 0x00, 0x00}},
	{"syscall", []byte{0x0F, 0x05}},
	{"cpuid", []byte{0x0F, 0xA2}},
	{"mfence", []byte{0x0F, 0xAE, 0xF0}},
	{"fld dword [rax]", []byte{0xD9, 0x00}},
	{"fldcw [rsp+4]", []byte{0xD9, 0x6C, 0x24, 0x04}},
	{"fchs", []byte{0xD9, 0xE0}},
	{"fld1", []byte{0xD9, 0xE8}},
	{"fxch st1", []byte{0xD9, 0xC9}},
	{"fninit", []byte{0xDB, 0xE3}},
	{"fild dword [rax]", []byte{0xDB, 0x00}},
	{"fstp tword [rax+disp32]", []byte{0xDB, 0xB8, 0x00, 0x01, 0x00, 0x00}},
	{"fstp qword [rax]", []byte{0xDD, 0x18}},
	{"fstp st1", []byte{0xDD, 0xD9}},
	{"fnstsw [rbp-8]", []byte{0xDD, 0x7D, 0xF8}},
}

// extraLen covers encodings x86asm doesn't agree on or doesn't decode.
var extraLen = []struct {
	name string
	code []byte
	n    int
}{
	{"fstsw ax", []byte{0x9B, 0xDF, 0xE0}, 3},
}

func TestDecodeVectors(t *testing.T) {
	for _, v := range vectors {
		t.Run(v.name, func(t *testing.T) {
			n, err := Decode(v.code)
			require.NoError(t, err)
			assert.Equal(t, len(v.code), n)
		})
	}
	for _, v := range extraLen {
		t.Run(v.name, func(t *testing.T) {
			n, err := Decode(v.code)
			require.NoError(t, err)
			assert.Equal(t, v.n, n)
		})
	}
}

// every accepted vector must agree with a full disassembler
func TestDecodeMatchesDisassembler(t *testing.T) {
	for _, v := range vectors {
		t.Run(v.name, func(t *testing.T) {
			inst, err := x86asm.Decode(v.code, 64)
			require.NoError(t, err)
			n, err := Decode(v.code)
			require.NoError(t, err)
			assert.Equal(t, inst.Len, n, "x86asm sees %s", inst)
		})
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	for _, v := range vectors {
		code := append(append([]byte{}, v.code...), 0xCC, 0xCC, 0x90, 0x41)
		n, err := Decode(code)
		require.NoError(t, err, v.name)
		assert.Equal(t, len(v.code), n, v.name)
	}

	// return is a single byte, whatever follows it
	n, err := Decode([]byte{0xC3, 0xCC, 0xCC, 0xCC})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecodeUnrecognized(t *testing.T) {
	cases := []struct {
		name   string
		code   []byte
		offset int
	}{
		{"invalid in 64-bit mode", []byte{0x27}, 0},
		{"push es", []byte{0x06}, 0},
		{"group 1 alias 82", []byte{0x82, 0xC0, 0x01}, 0},
		{"vex", []byte{0xC5, 0xF8, 0x77}, 0},
		{"unsupported two-byte", []byte{0x0F, 0x0D, 0x00}, 1},
		{"rex before prefix", []byte{0x48, 0x66, 0x90}, 1},
		{"double rex", []byte{0x48, 0x48, 0x90}, 1},
		{"inc with bad reg", []byte{0xFE, 0xD0}, 1},
		{"lea with register operand", []byte{0x8D, 0xC0}, 1},
		{"fwait alone", []byte{0x9B, 0x90}, 1},
		{"fstsw with wrong tail", []byte{0x9B, 0xDF, 0xE1}, 2},
		{"d9 reserved register form", []byte{0xD9, 0xD1}, 1},
		{"d9 reserved memory form", []byte{0xD9, 0x08}, 1},
		{"db reserved memory form", []byte{0xDB, 0x20}, 1},
		{"dd reserved register form", []byte{0xDD, 0xF0}, 1},
		{"dd reserved memory form", []byte{0xDD, 0x28}, 1},
		{"0f ae memory form", []byte{0x0F, 0xAE, 0x00}, 2},
		{"prefixed garbage", []byte{0x66, 0x2E, 0x06}, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n, err := Decode(c.code)
			assert.Zero(t, n)
			require.ErrorIs(t, err, ErrUnrecognized)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, c.offset, de.Offset)
			assert.Equal(t, c.code[c.offset], de.Opcode)
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{0x48},
		{0x66, 0x2E},
		{0x48, 0xB8, 1, 2, 3},
		{0xE8, 0, 0},
		{0x48, 0x8B, 0x05, 1, 2},
		{0x48, 0x8B, 0x04},
		{0x0F},
		{0x0F, 0x84, 1},
		{0xD9},
		{0x9B, 0xDF},
	}
	for _, code := range cases {
		n, err := Decode(code)
		assert.Zero(t, n, "% x", code)
		assert.ErrorIs(t, err, ErrTruncated, "% x", code)
	}
}

func TestDecodeTooLong(t *testing.T) {
	code := append(bytes.Repeat([]byte{0x66}, 14), 0x05, 0x34, 0x12)
	_, err := Decode(code)
	assert.ErrorIs(t, err, ErrUnrecognized)

	code = append(bytes.Repeat([]byte{0x2E}, MaxLen), 0x90)
	_, err = Decode(code)
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = Decode(bytes.Repeat([]byte{0x2E}, MaxLen))
	assert.Error(t, err)
}

func TestLength(t *testing.T) {
	logger, hook := test.NewNullLogger()
	SetLogger(logger)
	defer SetLogger(logrus.StandardLogger())

	assert.Equal(t, 3, Length([]byte{0x48, 0x89, 0xE5}))
	assert.Empty(t, hook.AllEntries())

	assert.Zero(t, Length([]byte{0x27}))
	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, 0, entry.Data["offset"])
	assert.Equal(t, "0x27", entry.Data["opcode"])
}

func TestWalk(t *testing.T) {
	code := []byte{
		0x48, 0x89, 0xE5,                         // mov rbp, rsp
		0x48, 0x81, 0xEC, 0x28, 0x01, 0x00, 0x00, // sub rsp, 0x128
		0x90, 0x90,                               // nop; nop
		0x55, 0x41, 0x54, 0x53, 0x90, 0x90, 0x90, 0xC3,
	}

	spans, total, err := Walk(code, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Equal(t, []Span{{0, 3}, {3, 7}, {10, 1}, {11, 1}}, spans)

	// boundary lands mid instruction, whole instruction is taken
	spans, total, err = Walk(code, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, spans, 2)

	spans, total, err = Walk(code, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, spans)
}

func TestWalkBoundaries(t *testing.T) {
	var code []byte
	for _, v := range vectors {
		code = append(code, v.code...)
	}
	for min := 1; min <= 40; min++ {
		spans, total, err := Walk(code, min)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, total, min)
		assert.Less(t, total-spans[len(spans)-1].Len, min, "last instruction must be needed")

		// every span starts where previous one ends, and the stream re-decodes identically
		off := 0
		for _, s := range spans {
			assert.Equal(t, off, s.Offset)
			n, err := Decode(code[s.Offset:])
			require.NoError(t, err)
			assert.Equal(t, s.Len, n)
			off += s.Len
		}
	}
}

func TestWalkFailure(t *testing.T) {
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0x06, 0x90}

	spans, total, err := Walk(code, 12)
	require.ErrorIs(t, err, ErrUnrecognized)
	assert.Equal(t, 4, total)
	assert.Len(t, spans, 2)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Offset)
	assert.Equal(t, byte(0x06), de.Opcode)

	_, _, err = Walk(code[:3], 12)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestRelative(t *testing.T) {
	assert.True(t, Relative([]byte{0xE8, 0, 0, 0, 0}))
	assert.True(t, Relative([]byte{0x74, 0x10}))
	assert.True(t, Relative([]byte{0x48, 0x8B, 0x05, 1, 2, 3, 4}))
	assert.True(t, Relative([]byte{0xFF, 0x15, 0x10, 0, 0, 0}))
	assert.False(t, Relative([]byte{0x48, 0x89, 0xE5}))
	assert.False(t, Relative([]byte{0x8B, 0x04, 0x25, 1, 2, 3, 4}))
	assert.False(t, Relative([]byte{0x06}))
}

func TestStackRelative(t *testing.T) {
	stack := map[string][]byte{
		"push rbp":          {0x55},
		"pop r12":           {0x41, 0x5C},
		"pushfq":            {0x9C},
		"call rel32":        {0xE8, 0, 0, 0, 0},
		"call rax":          {0xFF, 0xD0},
		"ret":               {0xC3},
		"leave":             {0xC9},
		"mov rbp, rsp":      {0x48, 0x89, 0xE5},
		"sub rsp, 0x20":     {0x48, 0x83, 0xEC, 0x20},
		"mov [rsp+8], rbx":  {0x48, 0x89, 0x5C, 0x24, 0x08},
		"lea rcx, [rsp+8]":  {0x48, 0x8D, 0x4C, 0x24, 0x08},
		"movaps [rsp], xmm": {0x0F, 0x29, 0x34, 0x24},
	}
	for name, code := range stack {
		assert.True(t, StackRelative(code), name)
	}

	plain := map[string][]byte{
		"mov rax, rcx":      {0x48, 0x89, 0xC8},
		"mov [rbp-8], rbx":  {0x48, 0x89, 0x5D, 0xF8},
		"mov rax, [rip+4]":  {0x48, 0x8B, 0x05, 4, 0, 0, 0},
		"jmp rel8":          {0xEB, 0x10},
		"add rcx, 0x20":     {0x48, 0x83, 0xC1, 0x20},
		"unrecognized byte": {0x06},
	}
	for name, code := range plain {
		assert.False(t, StackRelative(code), name)
	}
}

func TestDisassemble(t *testing.T) {
	assert.Equal(t, "mov rbp, rsp", Disassemble([]byte{0x48, 0x89, 0xE5}, 0))
	assert.Empty(t, Disassemble(nil, 0))
}
