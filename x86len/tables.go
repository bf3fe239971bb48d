// This file is part of Cavehook project, available at https://github.com/qrdl/cavehook
// Copyright (c) 2024-2026 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package x86len

// form describes what follows an opcode byte.
type form uint8

const (
	invalid form = iota

	none      // opcode only
	imm8      // ib, also rel8 branches
	imm16     // iw
	immZ      // iw with 66 prefix, id otherwise
	immV      // io with REX.W, iw with 66 prefix, id otherwise
	rel32     // cd
	moffs     // 8 byte absolute address, 4 with 67 prefix
	modrm     // ModR/M, optional SIB and displacement
	modrmImm8 // ModR/M + ib
	modrmImmZ // ModR/M + iw/id
	group3    // F6/F7, immediate only for TEST (/0)
	escape    // 0F two-byte opcodes
	fpu       // opcode specific sub-tables
)

func fill(t *[256]form, f form, opcodes ...byte) {
	for _, op := range opcodes {
		t[op] = f
	}
}

func span(from, to byte) []byte {
	res := make([]byte, 0, int(to)-int(from)+1)
	for op := int(from); op <= int(to); op++ {
		res = append(res, byte(op))
	}
	return res
}

// primary is the one-byte opcode map, limited to what shows up at hookable call sites of compiled x86-64 code.
// Opcodes that are invalid in 64-bit mode (PUSH ES, DAA, BOUND, ...) are deliberately absent.
var primary = func() [256]form {
	var t [256]form

	fill(&t, none, span(0x50, 0x5F)...)                // push/pop r64
	fill(&t, none, span(0x90, 0x99)...)                // nop, xchg, cwde, cdq
	fill(&t, none, 0x9C, 0x9D, 0x9E, 0x9F)             // pushf, popf, sahf, lahf
	fill(&t, none, 0xA4, 0xA5, 0xA6, 0xA7)             // movs, cmps
	fill(&t, none, span(0xAA, 0xAF)...)                // stos, lods, scas
	fill(&t, none, 0xC3, 0xC9, 0xCB, 0xCC, 0xF4, 0xF5) // ret, leave, retf, int3, hlt, cmc
	fill(&t, none, span(0xF8, 0xFD)...)                // clc, stc, cli, sti, cld, std

	fill(&t, imm8, 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C) // op al, ib
	fill(&t, imm8, 0x6A, 0xA8, 0xCD)                               // push ib, test al, int
	fill(&t, imm8, span(0xB0, 0xB7)...)                            // mov r8, ib
	fill(&t, imm8, span(0x70, 0x7F)...)                            // jcc rel8
	fill(&t, imm8, 0xE0, 0xE1, 0xE2, 0xE3, 0xEB)                   // loop, jrcxz, jmp rel8

	fill(&t, imm16, 0xC2, 0xCA) // ret iw, retf iw

	fill(&t, immZ, 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D) // op eax, id
	fill(&t, immZ, 0x68, 0xA9)                                     // push id, test eax

	fill(&t, immV, span(0xB8, 0xBF)...) // mov r, imm

	fill(&t, rel32, 0xE8, 0xE9) // call, jmp

	fill(&t, moffs, 0xA0, 0xA1, 0xA2, 0xA3) // mov al/eax, moffs and back

	fill(&t, modrm, 0x00, 0x01, 0x02, 0x03, 0x08, 0x09, 0x0A, 0x0B)
	fill(&t, modrm, 0x10, 0x11, 0x12, 0x13, 0x18, 0x19, 0x1A, 0x1B)
	fill(&t, modrm, 0x20, 0x21, 0x22, 0x23, 0x28, 0x29, 0x2A, 0x2B)
	fill(&t, modrm, 0x30, 0x31, 0x32, 0x33, 0x38, 0x39, 0x3A, 0x3B)
	fill(&t, modrm, 0x63)                               // movsxd
	fill(&t, modrm, span(0x84, 0x8B)...)                // test, xchg, mov
	fill(&t, modrm, 0x8D, 0x8F)                         // lea, pop r/m
	fill(&t, modrm, 0xD0, 0xD1, 0xD2, 0xD3, 0xFE, 0xFF) // shifts, inc/dec/call/jmp/push

	fill(&t, modrmImm8, 0x6B, 0x80, 0x83, 0xC0, 0xC1, 0xC6)
	fill(&t, modrmImmZ, 0x69, 0x81, 0xC7)

	fill(&t, group3, 0xF6, 0xF7)
	fill(&t, escape, 0x0F)
	fill(&t, fpu, 0x9B, 0xD9, 0xDB, 0xDD)

	return t
}()

// secondary is the 0F xx opcode map.
var secondary = func() [256]form {
	var t [256]form

	fill(&t, none, 0x05, 0x0B, 0x31, 0xA2) // syscall, ud2, rdtsc, cpuid

	fill(&t, modrm, 0x1F)                                     // multi-byte nop
	fill(&t, modrm, 0x10, 0x11, 0x28, 0x29, 0x2E, 0x2F, 0x57) // sse moves, compares, xorps
	fill(&t, modrm, 0x6E, 0x6F, 0x7E, 0x7F)                   // movd/movq, movdqa/movdqu
	fill(&t, modrm, span(0x40, 0x4F)...)                      // cmovcc
	fill(&t, modrm, span(0x90, 0x9F)...)                      // setcc
	fill(&t, modrm, 0xA3, 0xAB, 0xAF)                         // bt, bts, imul
	fill(&t, modrm, 0xB0, 0xB1, 0xB6, 0xB7, 0xBC, 0xBD, 0xBE, 0xBF)
	fill(&t, modrm, 0xC1, 0xC7) // xadd, cmpxchg8b/16b

	fill(&t, modrmImm8, 0xBA) // bt group with ib

	fill(&t, rel32, span(0x80, 0x8F)...) // jcc rel32

	fill(&t, fpu, 0xAE) // fences

	return t
}()

// allowedReg returns bitmask of ModR/M reg field values defined for opcode of the primary map.
func allowedReg(op byte) uint8 {
	switch op {
	case 0xFE:
		return 0x03 // inc, dec
	case 0xFF:
		return 0x7F
	case 0x8F, 0xC6, 0xC7:
		return 0x01
	case 0xF6, 0xF7:
		return 0xFD // /1 is an undocumented alias of test
	}
	return 0xFF
}

// allowedReg0F returns bitmask of ModR/M reg field values defined for 0F-prefixed opcode.
func allowedReg0F(op byte) uint8 {
	switch op {
	case 0xBA:
		return 0xF0 // bt, bts, btr, btc
	case 0xC7:
		return 0x02 // cmpxchg8b
	}
	return 0xFF
}

// memoryOnly reports whether opcode requires memory operand (mod != 3).
func memoryOnly(op byte, twoByte bool) bool {
	if twoByte {
		return op == 0xC7
	}
	return op == 0x8D
}

// fpuRegForms lists valid register forms (mod == 3) of D9, DB and DD, indexed by ModR/M byte - 0xC0.
var fpuRegForms = map[byte][64]bool{
	0xD9: fpuSet(span(0xC0, 0xCF), []byte{0xD0, 0xE0, 0xE1, 0xE4, 0xE5}, span(0xE8, 0xEE), span(0xF0, 0xFF)),
	0xDB: fpuSet([]byte{0xE2, 0xE3}),                 // fnclex, fninit
	0xDD: fpuSet(span(0xC0, 0xC7), span(0xD0, 0xEF)), // ffree, fst, fstp, fucom, fucomp
}

// fpuMemForms is bitmask of valid ModR/M reg field values for memory forms of D9, DB and DD.
var fpuMemForms = map[byte]uint8{
	0xD9: 0xFD, // fld, fst, fstp, fldenv, fldcw, fnstenv, fnstcw
	0xDB: 0xAF, // fild, fisttp, fist, fistp, fld m80, fstp m80
	0xDD: 0xDF, // fld m64, fisttp, fst, fstp, frstor, fnsave, fnstsw
}

func fpuSet(groups ...[]byte) [64]bool {
	var res [64]bool
	for _, g := range groups {
		for _, m := range g {
			res[m-0xC0] = true
		}
	}
	return res
}
