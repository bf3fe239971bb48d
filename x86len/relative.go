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

import (
	"golang.org/x/arch/x86/x86asm"
)

// Relative reports whether the instruction at the start of code addresses memory relative to its own location
// (relative branch or RIP-relative operand), so it changes meaning when copied elsewhere.
func Relative(code []byte) bool {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return false
	}
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			return true
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				return true
			}
		}
	}
	return false
}

// StackRelative reports whether the instruction at the start of code reads or changes rsp or addresses memory
// through it, so it behaves differently when run with something else on top of the stack.
func StackRelative(code []byte) bool {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return false
	}
	switch inst.Op {
	case x86asm.PUSH, x86asm.POP, x86asm.PUSHF, x86asm.PUSHFQ, x86asm.POPF, x86asm.POPFQ,
		x86asm.CALL, x86asm.RET, x86asm.LRET, x86asm.ENTER, x86asm.LEAVE:
		return true
	}
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Reg:
			if a == x86asm.RSP || a == x86asm.ESP || a == x86asm.SP || a == x86asm.SPB {
				return true
			}
		case x86asm.Mem:
			if a.Base == x86asm.RSP || a.Base == x86asm.ESP {
				return true
			}
		}
	}
	return false
}

// Disassemble returns Intel syntax of the instruction at the start of code, placed at pc. Empty string means
// the instruction cannot be disassembled.
func Disassemble(code []byte, pc uint64) string {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return ""
	}
	return x86asm.IntelSyntax(inst, pc, nil)
}
