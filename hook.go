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
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qrdl/cavehook/asm"
	"github.com/qrdl/cavehook/internal/console"
	"github.com/qrdl/cavehook/mem"
)

// FullHookScratch is the padding placed after full hook code.
const FullHookScratch = 50

// Trampoline describes an installed hook.
type Trampoline struct {
	Target      uintptr
	Replacement uintptr
	// Address and Size locate the trampoline code in the codecave
	Address uintptr
	Size    int
	// BackupAddress is where the codecave copy of the displaced bytes starts, right after the trampoline code
	BackupAddress     uintptr
	Backup            []byte
	BackedUpByteCount int
	Site              PatchSite
	Full              bool

	owner    *Engine
	removed  bool
	origSum  uint64       // fingerprint of the displaced bytes
	patchSum uint64       // fingerprint of the site right after patching
	prior    []mem.Region // site protection before a full hook left it writable
}

// Removed reports whether [Engine.RemoveHook] has been called for the hook.
func (t *Trampoline) Removed() bool {
	return t.removed
}

// InstallHook redirects execution at target to replacement. The trampoline calls replacement, then runs the
// displaced instructions and returns right after them. scratch bytes of int3 are reserved after the call.
//
// Nothing is written when the target can't be decoded or the codecave is exhausted.
func (e *Engine) InstallHook(target, replacement uintptr, scratch int) (*Trampoline, error) {
	fields := logrus.Fields{"target": hex(target), "replacement": hex(replacement)}
	if scratch < 0 {
		return nil, e.fail(errors.Wrapf(ErrInvalidScratch, "%d", scratch), fields)
	}
	if t := e.overlapping(target, 1); t != nil {
		return nil, e.fail(errors.Wrapf(ErrAlreadyHooked, "%#x is patched by hook at %#x", target, t.Target), fields)
	}

	site, err := e.plan(target, e.cave.Next())
	if err != nil {
		return nil, e.fail(err, fields)
	}

	if e.overlapping(site.Target, site.DisplacedLen) != nil {
		return nil, e.fail(errors.Wrapf(ErrAlreadyHooked, "[%#x, %#x) overlaps existing hook",
			site.Target, site.Target+uintptr(site.DisplacedLen)), fields)
	}
	e.warnReplay(site)

	prog := callThrough(replacement, site, scratch)
	t, err := e.emitAt(site, prog.Len(), func(uintptr) asm.Program { return prog })
	if err != nil {
		return nil, e.fail(err, fields)
	}
	t.Replacement = replacement

	if err = e.patch(t); err != nil {
		return nil, e.fail(err, fields)
	}

	console.Success(e.log, "Hooked %#x -> %#x via trampoline at %#x (%d bytes displaced)",
		target, replacement, t.Address, site.DisplacedLen)
	return t, nil
}

// callThrough returns trampoline code of a call-through hook:
//
//	mov rax, replacement
//	call rax
//	int3 * scratch
//	<displaced instructions>
//	add qword ptr [rsp], tail   ; only when the last instruction overhangs the stub
//	ret
func callThrough(replacement uintptr, site PatchSite, scratch int) asm.Program {
	prog := asm.AbsoluteCall(replacement)
	prog = append(prog,
		asm.Fill{Byte: asm.TrapFiller, N: scratch},
		asm.Raw(site.Code),
	)
	if site.Tail() > 0 {
		// return past the trap-filled tail, not into it
		prog = append(prog, asm.AddStackImm8{Imm: int8(site.Tail())})
	}
	return append(prog, asm.Ret{})
}

// emitAt allocates codecave space for codeLen bytes of trampoline code followed by the backup of displaced bytes,
// and writes both. build returns the code for the allocated address and must not change its length.
func (e *Engine) emitAt(site PatchSite, codeLen int, build func(addr uintptr) asm.Program) (*Trampoline, error) {
	size := codeLen + site.DisplacedLen
	addr, err := e.cave.Allocate(size)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to allocate trampoline")
	}

	prog := build(addr)
	if prog.Len() != codeLen {
		return nil, errors.Errorf("trampoline code size changed from %d to %d", codeLen, prog.Len())
	}
	code, err := prog.Assemble(addr)
	if err != nil {
		return nil, err
	}
	code = append(code, site.Code...)

	if err = mem.Fill(e.mem, addr, asm.TrapFiller, size); err != nil {
		return nil, err
	}
	if err = mem.Write(e.mem, addr, code); err != nil {
		return nil, err
	}
	if err = e.mem.Protect(addr, size, mem.ProtRX); err != nil {
		return nil, errors.WithMessagef(err, "failed to seal trampoline at %#x", addr)
	}

	backup := make([]byte, site.DisplacedLen)
	copy(backup, site.Code)
	e.log.WithFields(logrus.Fields{
		"address": hex(addr),
		"size":    size,
	}).Debug("Trampoline written")

	return &Trampoline{
		Target:            site.Target,
		Address:           addr,
		Size:              size,
		BackupAddress:     addr + uintptr(codeLen),
		Backup:            backup,
		BackedUpByteCount: site.DisplacedLen,
		Site:              site,
		owner:             e,
		origSum:           xxhash.Sum64(backup),
	}, nil
}

// patch overwrites displaced instructions at the site with redirect to the trampoline, padding the rest with
// int3, and registers the hook.
func (e *Engine) patch(t *Trampoline) error {
	stub, err := redirectStub(t.Address, t.Site.StubSize).Assemble(t.Target)
	if err != nil {
		return err
	}
	code := make([]byte, t.BackedUpByteCount)
	copy(code, stub)
	for i := len(stub); i < len(code); i++ {
		code[i] = asm.TrapFiller
	}

	if err = mem.Write(e.mem, t.Target, code); err != nil {
		return errors.WithMessagef(err, "failed to patch %#x", t.Target)
	}
	t.patchSum = xxhash.Sum64(code)
	e.hooks[t.Target] = t

	return nil
}
