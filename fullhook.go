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

package cavehook

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qrdl/cavehook/asm"
	"github.com/qrdl/cavehook/internal/console"
	"github.com/qrdl/cavehook/mem"
)

// restoreHelper copies r8 bytes from [rdx] to [rcx].
var restoreHelper = asm.Program{
	asm.MovReg{Dst: asm.RDI, Src: asm.RCX},
	asm.MovReg{Dst: asm.RSI, Src: asm.RDX},
	asm.MovReg{Dst: asm.RCX, Src: asm.R8},
	asm.RepMovsb{},
	asm.Ret{},
}

// Hook installs a full hook: replacement is called with [asm.SavedRegisters] and flags preserved, then the displaced
// bytes are copied back to target and execution resumes there, as if the hook never happened. The patch site
// stays writable, and the hook fires only once.
func (e *Engine) Hook(target, replacement uintptr) (*Trampoline, error) {
	fields := logrus.Fields{"target": hex(target), "replacement": hex(replacement), "full": true}
	if t := e.overlapping(target, 1); t != nil {
		return nil, e.fail(errors.Wrapf(ErrAlreadyHooked, "%#x is patched by hook at %#x", target, t.Target), fields)
	}

	// helper, if still to be emitted, goes first
	tramp := e.cave.Next()
	if e.helper == 0 {
		tramp += uintptr(restoreHelper.Len())
	}
	site, err := e.plan(target, tramp)
	if err != nil {
		return nil, e.fail(err, fields)
	}
	if e.overlapping(site.Target, site.DisplacedLen) != nil {
		return nil, e.fail(errors.Wrapf(ErrAlreadyHooked, "[%#x, %#x) overlaps existing hook",
			site.Target, site.Target+uintptr(site.DisplacedLen)), fields)
	}
	if err = e.emitHelper(); err != nil {
		return nil, e.fail(err, fields)
	}

	// backup address is only known after allocation, but doesn't change the code size
	placeholder := fullHook(replacement, e.helper, 0, site)
	prior, err := e.mem.Query(target, site.DisplacedLen)
	if err != nil {
		return nil, e.fail(errors.WithMessagef(err, "failed to query protection at %#x", target), fields)
	}

	t, err := e.emitAt(site, placeholder.Len(), func(addr uintptr) asm.Program {
		return fullHook(replacement, e.helper, addr+uintptr(placeholder.Len()), site)
	})
	if err != nil {
		return nil, e.fail(err, fields)
	}
	t.Replacement = replacement
	t.Full = true
	t.prior = prior

	if err = e.patch(t); err != nil {
		return nil, e.fail(err, fields)
	}
	// restore helper writes displaced bytes back
	if err = e.mem.Protect(target, site.DisplacedLen, mem.ProtRWX); err != nil {
		return nil, e.fail(errors.WithMessagef(err, "failed to leave %#x writable", target), fields)
	}

	console.Success(e.log, "Full hook %#x -> %#x via trampoline at %#x (%d bytes displaced)",
		target, replacement, t.Address, site.DisplacedLen)
	return t, nil
}

// fullHookFrame is reserved below the saved state for both calls. With the redirect stub entered at function
// start it also brings rsp back to 16-byte alignment.
const fullHookFrame = asm.ShadowSpace + 8

// fullHook returns trampoline code of a full hook:
//
//	pop r12                 ; return address, right after the redirect stub
//	push <saved registers>
//	pushfq
//	sub rsp, frame          ; shadow space for the callees
//	mov rax, replacement
//	call rax
//	sub r12, stub           ; original site
//	mov rcx, r12
//	mov rdx, backup
//	mov r8d, displaced
//	mov rax, helper
//	call rax                ; copy displaced bytes back
//	add rsp, frame
//	popfq
//	pop <saved registers>
//	push r12
//	ret                     ; resume at original site
//	int3 * FullHookScratch
func fullHook(replacement, helper, backup uintptr, site PatchSite) asm.Program {
	prog := asm.Program{asm.Pop{Reg: asm.R12}}
	prog = append(prog, asm.PushAll(asm.SavedRegisters)...)
	prog = append(prog,
		asm.Pushfq{},
		asm.SubImm8{Reg: asm.RSP, Imm: fullHookFrame},
	)
	prog = append(prog, asm.AbsoluteCall(replacement)...)
	prog = append(prog,
		asm.SubImm8{Reg: asm.R12, Imm: int8(site.StubSize)},
		asm.MovReg{Dst: asm.RCX, Src: asm.R12},
		asm.MovImm64{Reg: asm.RDX, Imm: uint64(backup)},
		asm.MovImm32{Reg: asm.R8, Imm: uint32(site.DisplacedLen)},
	)
	prog = append(prog, asm.AbsoluteCall(helper)...)
	prog = append(prog,
		asm.AddImm8{Reg: asm.RSP, Imm: fullHookFrame},
		asm.Popfq{},
	)
	prog = append(prog, asm.PopAll(asm.SavedRegisters)...)
	return append(prog,
		asm.Push{Reg: asm.R12},
		asm.Ret{},
		asm.Fill{Byte: asm.TrapFiller, N: FullHookScratch},
	)
}

// emitHelper places restore helper into the codecave unless there is one already.
func (e *Engine) emitHelper() error {
	if e.helper != 0 {
		return nil
	}

	addr, err := e.cave.Allocate(restoreHelper.Len())
	if err != nil {
		return errors.WithMessage(err, "failed to allocate restore helper")
	}
	code, err := restoreHelper.Assemble(addr)
	if err != nil {
		return err
	}
	if err = mem.Write(e.mem, addr, code); err != nil {
		return err
	}
	if err = e.mem.Protect(addr, len(code), mem.ProtRX); err != nil {
		return errors.WithMessagef(err, "failed to seal restore helper at %#x", addr)
	}
	e.helper = addr
	e.log.WithField("address", hex(addr)).Debug("Restore helper written")

	return nil
}
