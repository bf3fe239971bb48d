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
Package cavehook installs inline hooks into x86-64 machine code.

A hook redirects execution at an arbitrary instruction address to replacement code. The first instructions at the
target are displaced by a redirect stub that calls a trampoline placed into a codecave, a fixed region of the host
address space reserved for injected code. The trampoline calls the replacement, replays the displaced instructions
and returns right after them.

# Platforms supported

Only x86-64 code is handled. [mem.Process] works on Linux and Windows, [mem.Buffer] simulates an address space
anywhere and is what tests use.

# The concept

Hooks are installed once, at startup, before the host calls the hooked code from its own threads. Codecave space
is never freed, so a removed hook leaves its trampoline behind.

There are two kinds of hooks:

  - [Engine.InstallHook] is a call-through hook. The replacement is called first, then the displaced instructions
    run from the trampoline, then execution continues after the patched site.
  - [Engine.Hook] is a full hook. Registers rax, rcx, rdx, rbx, rbp, rsi, rdi, r8-r11 and flags are saved around
    the replacement call, which gets Win64 shadow space. Then the displaced bytes are copied back to the site and
    execution resumes at the original instruction, so the hook fires once.

Redirect stub is either `mov rax, imm64; call rax` (12 bytes, reaches anywhere) or, with [RedirectNearest],
`call rel32` (5 bytes) when the trampoline is within 2 GiB of the site.

Typical use:

	m := mem.Process()
	cave, err := codecave.New(m, codecave.DefaultRegion)
	if err != nil {
	    return err
	}
	engine := cavehook.New(m, cave, cavehook.WithRedirect(cavehook.RedirectNearest))

	tramp, err := engine.InstallHook(target, replacement, 0)
	if err != nil {
	    return err
	}
	...
	if err = engine.RemoveHook(tramp); err != nil {
	    return err
	}

# Known limitations

Displaced instructions are copied verbatim. Relative branches and RIP-relative operands among them end up pointing
elsewhere, so [Engine.Plan] reports them and installation logs a warning, but doesn't rewrite them.

A call-through trampoline replays displaced instructions with its return address on top of the stack. Instructions
using rsp (push, pop, call, `sub rsp`, `[rsp+n]` operands) see a different stack, and if they change it the
trampoline returns to a wrong address. They are flagged in [PatchSite.StackRelative] and logged the same way. Hook
below function prologues, or use a full hook, which runs displaced code in place.

The redirect stub clobbers rax and the full hook uses r12 as scratch. A call-through hook saves nothing around the
replacement. The full hook keeps rsp 16-byte aligned at its calls only when the site is a function entry.

The tail of the last displaced instruction is filled with int3. If the host branches into it, the process traps.
*/
package cavehook
