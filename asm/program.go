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

package asm

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

const (
	// AbsoluteCallLen is the size of `mov rax, imm64; call rax`
	AbsoluteCallLen = 12
	// RelativeCallLen is the size of `call rel32`
	RelativeCallLen = 5
	// TrapFiller is int3, used as inert padding
	TrapFiller = 0xCC
)

// ErrOutOfRange means relative displacement doesn't fit in 32 bits.
var ErrOutOfRange = errors.New("relative target out of range")

// SavedRegisters are the general purpose registers preserved around a call into replacement code: Win64 volatile
// ones plus those the restore helper uses.
var SavedRegisters = []Reg{RAX, RCX, RDX, RBX, RBP, RSI, RDI, R8, R9, R10, R11}

// ShadowSpace is the home area for register arguments a Win64 caller reserves below the return address.
const ShadowSpace = 0x20

// Program is a sequence of operations placed at consecutive addresses.
type Program []Op

// Len returns encoded length of the program.
func (p Program) Len() int {
	var n int
	for _, op := range p {
		n += op.Len()
	}
	return n
}

// Assemble encodes the program to be placed at base.
func (p Program) Assemble(base uintptr) ([]byte, error) {
	code := make([]byte, 0, p.Len())
	pc := base
	for _, op := range p {
		var err error
		code, err = op.encode(code, pc)
		if err != nil {
			return nil, err
		}
		pc += uintptr(op.Len())
	}
	return code, nil
}

// String returns assembly listing, one op per line.
func (p Program) String() string {
	var sb strings.Builder
	for _, op := range p {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// PushAll pushes regs in order.
func PushAll(regs []Reg) Program {
	prog := make(Program, 0, len(regs))
	for _, r := range regs {
		prog = append(prog, Push{Reg: r})
	}
	return prog
}

// PopAll pops regs pushed by [PushAll], in reverse order.
func PopAll(regs []Reg) Program {
	prog := make(Program, 0, len(regs))
	for i := len(regs) - 1; i >= 0; i-- {
		prog = append(prog, Pop{Reg: regs[i]})
	}
	return prog
}

// AbsoluteCall returns `mov rax, target; call rax`, which reaches any address and survives code relocation.
func AbsoluteCall(target uintptr) Program {
	return Program{
		MovImm64{Reg: RAX, Imm: uint64(target)},
		CallReg{Reg: RAX},
	}
}

// BuildAbsoluteCall returns encoded [AbsoluteCall], always [AbsoluteCallLen] bytes.
func BuildAbsoluteCall(target uintptr) []byte {
	code, _ := AbsoluteCall(target).Assemble(0) // position independent, cannot fail
	return code
}

// RelativeFits reports whether target is reachable with rel32 displacement from next, the address of the
// instruction following the branch.
func RelativeFits(next, target uintptr) bool {
	disp := int64(target) - int64(next)
	return disp >= math.MinInt32 && disp <= math.MaxInt32
}
