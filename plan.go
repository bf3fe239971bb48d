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

	"github.com/qrdl/cavehook/x86len"
)

// PatchSite describes the instructions displaced by a redirect stub.
//
// A call-through trampoline replays displaced instructions with its own return address on top of the stack, so
// instructions flagged StackRelative see a different stack, and any stack change makes the trampoline return
// elsewhere than the patch site.
type PatchSite struct {
	Target        uintptr
	StubSize      int
	Instructions  []x86len.Span // offsets relative to Target
	DisplacedLen  int           // sum of instruction lengths, never less than StubSize
	Code          []byte        // displaced bytes
	Relative      bool          // some displaced instruction is position dependent
	StackRelative bool          // some displaced instruction uses rsp
}

// Tail returns number of bytes of the last displaced instruction left after the stub.
func (s PatchSite) Tail() int {
	return s.DisplacedLen - s.StubSize
}

// Plan decodes instructions at target the way [Engine.InstallHook] would, without changing anything.
func (e *Engine) Plan(target uintptr) (PatchSite, error) {
	site, err := e.plan(target, e.cave.Next())
	if err != nil {
		return PatchSite{}, err
	}
	e.warnReplay(site)
	return site, nil
}

// plan computes patch site for a trampoline going to be placed at tramp.
func (e *Engine) plan(target, tramp uintptr) (PatchSite, error) {
	site := PatchSite{
		Target:   target,
		StubSize: e.stubSize(target, tramp),
	}

	// longest possible displacement is stub-1 bytes followed by the longest instruction
	code, err := e.mem.Read(target, site.StubSize-1+x86len.MaxLen)
	if err != nil {
		return PatchSite{}, errors.WithMessagef(err, "failed to read code at %#x", target)
	}

	spans, total, err := x86len.Walk(code, site.StubSize)
	if err != nil {
		var de *x86len.DecodeError
		if errors.As(err, &de) {
			e.log.WithFields(logrus.Fields{
				"address": hex(target + uintptr(de.Offset)),
				"opcode":  hex(uintptr(de.Opcode)),
			}).Error("Cannot compute instruction length")
		}
		return PatchSite{}, errors.WithMessagef(err, "cannot displace code at %#x", target)
	}

	site.Instructions = spans
	site.DisplacedLen = total
	site.Code = code[:total]
	for _, s := range spans {
		insn := code[s.Offset : s.Offset+s.Len]
		site.Relative = site.Relative || x86len.Relative(insn)
		site.StackRelative = site.StackRelative || x86len.StackRelative(insn)
	}

	return site, nil
}

// warnReplay reports displaced instructions that won't behave the same when replayed from the trampoline.
func (e *Engine) warnReplay(site PatchSite) {
	if !site.Relative && !site.StackRelative {
		return
	}
	for _, s := range site.Instructions {
		insn := site.Code[s.Offset : s.Offset+s.Len]
		log := e.log.WithFields(logrus.Fields{
			"address":     hex(site.Target + uintptr(s.Offset)),
			"instruction": x86len.Disassemble(insn, uint64(site.Target)+uint64(s.Offset)),
		})
		if x86len.Relative(insn) {
			log.Warn("Displaced instruction is position dependent and will not be relocated")
		}
		if x86len.StackRelative(insn) {
			log.Warn("Displaced instruction uses the stack, trampoline may not return to the patch site")
		}
	}
}
