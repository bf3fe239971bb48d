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

/*
Package asm is a tiny x86-64 code generator for the stubs the hooking engine emits.

Code is described as a [Program], a list of typed operations, and serialised with [Program.Assemble] at the
address it will be placed at, so relative branches can be resolved:

	prog := asm.Program{
	    asm.Push{Reg: asm.RAX},
	    asm.MovImm64{Reg: asm.RAX, Imm: uint64(target)},
	    asm.CallReg{Reg: asm.RAX},
	    asm.Pop{Reg: asm.RAX},
	    asm.Ret{},
	}
	code, err := prog.Assemble(addr)
*/
package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Reg is a 64-bit general purpose register, numbered as in the instruction encoding.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg%d", uint8(r))
}

func (r Reg) low() byte {
	return byte(r) & 7
}

func (r Reg) extended() bool {
	return r >= R8
}

const (
	rexW = 0x48
	rexR = 0x04
	rexB = 0x01
)

// Op is a single operation of a [Program].
type Op interface {
	// Len returns encoded length in bytes.
	Len() int
	// encode appends encoding of the op placed at pc to b.
	encode(b []byte, pc uintptr) ([]byte, error)
	fmt.Stringer
}

// MovImm64 is `mov reg, imm64`.
type MovImm64 struct {
	Reg Reg
	Imm uint64
}

func (o MovImm64) Len() int { return 10 }

func (o MovImm64) encode(b []byte, _ uintptr) ([]byte, error) {
	rex := byte(rexW)
	if o.Reg.extended() {
		rex |= rexB
	}
	b = append(b, rex, 0xB8+o.Reg.low())
	return binary.LittleEndian.AppendUint64(b, o.Imm), nil
}

func (o MovImm64) String() string { return fmt.Sprintf("mov %s, %#x", o.Reg, o.Imm) }

// MovImm32 is `mov reg32, imm32`, zero-extending into the full register.
type MovImm32 struct {
	Reg Reg
	Imm uint32
}

func (o MovImm32) Len() int {
	if o.Reg.extended() {
		return 6
	}
	return 5
}

func (o MovImm32) encode(b []byte, _ uintptr) ([]byte, error) {
	if o.Reg.extended() {
		b = append(b, 0x40|rexB)
	}
	b = append(b, 0xB8+o.Reg.low())
	return binary.LittleEndian.AppendUint32(b, o.Imm), nil
}

func (o MovImm32) String() string { return fmt.Sprintf("mov %s(32), %#x", o.Reg, o.Imm) }

// MovReg is `mov dst, src`.
type MovReg struct {
	Dst Reg
	Src Reg
}

func (o MovReg) Len() int { return 3 }

func (o MovReg) encode(b []byte, _ uintptr) ([]byte, error) {
	rex := byte(rexW)
	if o.Dst.extended() {
		rex |= rexR
	}
	if o.Src.extended() {
		rex |= rexB
	}
	// 8B /r: mov r64, r/m64
	return append(b, rex, 0x8B, 0xC0|o.Dst.low()<<3|o.Src.low()), nil
}

func (o MovReg) String() string { return fmt.Sprintf("mov %s, %s", o.Dst, o.Src) }

// CallReg is `call reg`.
type CallReg struct {
	Reg Reg
}

func (o CallReg) Len() int { return regOpLen(o.Reg) }

func (o CallReg) encode(b []byte, _ uintptr) ([]byte, error) {
	return encodeFF(b, 2, o.Reg), nil
}

func (o CallReg) String() string { return "call " + o.Reg.String() }

// JmpReg is `jmp reg`.
type JmpReg struct {
	Reg Reg
}

func (o JmpReg) Len() int { return regOpLen(o.Reg) }

func (o JmpReg) encode(b []byte, _ uintptr) ([]byte, error) {
	return encodeFF(b, 4, o.Reg), nil
}

func (o JmpReg) String() string { return "jmp " + o.Reg.String() }

func regOpLen(r Reg) int {
	if r.extended() {
		return 3
	}
	return 2
}

// encodeFF encodes group 5 instruction FF /ext with register operand.
func encodeFF(b []byte, ext byte, r Reg) []byte {
	if r.extended() {
		b = append(b, 0x40|rexB)
	}
	return append(b, 0xFF, 0xC0|ext<<3|r.low())
}

// Push is `push reg`.
type Push struct {
	Reg Reg
}

func (o Push) Len() int { return regOpLen(o.Reg) - 1 }

func (o Push) encode(b []byte, _ uintptr) ([]byte, error) {
	if o.Reg.extended() {
		b = append(b, 0x40|rexB)
	}
	return append(b, 0x50+o.Reg.low()), nil
}

func (o Push) String() string { return "push " + o.Reg.String() }

// Pop is `pop reg`.
type Pop struct {
	Reg Reg
}

func (o Pop) Len() int { return regOpLen(o.Reg) - 1 }

func (o Pop) encode(b []byte, _ uintptr) ([]byte, error) {
	if o.Reg.extended() {
		b = append(b, 0x40|rexB)
	}
	return append(b, 0x58+o.Reg.low()), nil
}

func (o Pop) String() string { return "pop " + o.Reg.String() }

// SubImm8 is `sub reg, imm8`.
type SubImm8 struct {
	Reg Reg
	Imm int8
}

func (o SubImm8) Len() int { return 4 }

func (o SubImm8) encode(b []byte, _ uintptr) ([]byte, error) {
	rex := byte(rexW)
	if o.Reg.extended() {
		rex |= rexB
	}
	// 83 /5 ib
	return append(b, rex, 0x83, 0xC0|5<<3|o.Reg.low(), byte(o.Imm)), nil
}

func (o SubImm8) String() string { return fmt.Sprintf("sub %s, %#x", o.Reg, o.Imm) }

// AddImm8 is `add reg, imm8`.
type AddImm8 struct {
	Reg Reg
	Imm int8
}

func (o AddImm8) Len() int { return 4 }

func (o AddImm8) encode(b []byte, _ uintptr) ([]byte, error) {
	rex := byte(rexW)
	if o.Reg.extended() {
		rex |= rexB
	}
	// 83 /0 ib
	return append(b, rex, 0x83, 0xC0|o.Reg.low(), byte(o.Imm)), nil
}

func (o AddImm8) String() string { return fmt.Sprintf("add %s, %#x", o.Reg, o.Imm) }

// AddStackImm8 is `add qword ptr [rsp], imm8`, it adjusts the return address on top of the stack.
type AddStackImm8 struct {
	Imm int8
}

func (o AddStackImm8) Len() int { return 5 }

func (o AddStackImm8) encode(b []byte, _ uintptr) ([]byte, error) {
	// 83 /0 ib, ModR/M 04 + SIB 24 addresses [rsp]
	return append(b, rexW, 0x83, 0x04, 0x24, byte(o.Imm)), nil
}

func (o AddStackImm8) String() string { return fmt.Sprintf("add qword ptr [rsp], %#x", o.Imm) }

// CallRel32 is `call rel32` to an absolute target.
type CallRel32 struct {
	Target uintptr
}

func (o CallRel32) Len() int { return 5 }

func (o CallRel32) encode(b []byte, pc uintptr) ([]byte, error) {
	return encodeRel32(b, 0xE8, pc, o.Target)
}

func (o CallRel32) String() string { return fmt.Sprintf("call %#x", o.Target) }

// JmpRel32 is `jmp rel32` to an absolute target.
type JmpRel32 struct {
	Target uintptr
}

func (o JmpRel32) Len() int { return 5 }

func (o JmpRel32) encode(b []byte, pc uintptr) ([]byte, error) {
	return encodeRel32(b, 0xE9, pc, o.Target)
}

func (o JmpRel32) String() string { return fmt.Sprintf("jmp %#x", o.Target) }

func encodeRel32(b []byte, opcode byte, pc, target uintptr) ([]byte, error) {
	if !RelativeFits(pc+5, target) {
		return nil, errors.Wrapf(ErrOutOfRange, "%#x is too far from %#x", target, pc)
	}
	disp := int32(int64(target) - int64(pc+5))
	b = append(b, opcode)
	return binary.LittleEndian.AppendUint32(b, uint32(disp)), nil
}

// Ret is `ret`.
type Ret struct{}

func (Ret) Len() int { return 1 }

func (Ret) encode(b []byte, _ uintptr) ([]byte, error) { return append(b, 0xC3), nil }

func (Ret) String() string { return "ret" }

// RepMovsb is `rep movsb`, it copies rcx bytes from [rsi] to [rdi].
type RepMovsb struct{}

func (RepMovsb) Len() int { return 2 }

func (RepMovsb) encode(b []byte, _ uintptr) ([]byte, error) { return append(b, 0xF3, 0xA4), nil }

func (RepMovsb) String() string { return "rep movsb" }

// Pushfq is `pushfq`.
type Pushfq struct{}

func (Pushfq) Len() int { return 1 }

func (Pushfq) encode(b []byte, _ uintptr) ([]byte, error) { return append(b, 0x9C), nil }

func (Pushfq) String() string { return "pushfq" }

// Popfq is `popfq`.
type Popfq struct{}

func (Popfq) Len() int { return 1 }

func (Popfq) encode(b []byte, _ uintptr) ([]byte, error) { return append(b, 0x9D), nil }

func (Popfq) String() string { return "popfq" }

// Fill is N copies of Byte, typically int3 (0xCC) used as trap filler.
type Fill struct {
	Byte byte
	N    int
}

func (o Fill) Len() int { return o.N }

func (o Fill) encode(b []byte, _ uintptr) ([]byte, error) {
	for i := 0; i < o.N; i++ {
		b = append(b, o.Byte)
	}
	return b, nil
}

func (o Fill) String() string { return fmt.Sprintf("db %d dup(%#x)", o.N, o.Byte) }

// Raw is pre-encoded machine code copied verbatim, e.g. instructions displaced from a patch site.
type Raw []byte

func (o Raw) Len() int { return len(o) }

func (o Raw) encode(b []byte, _ uintptr) ([]byte, error) { return append(b, o...), nil }

func (o Raw) String() string { return fmt.Sprintf("db % x", []byte(o)) }
