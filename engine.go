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
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qrdl/cavehook/asm"
	"github.com/qrdl/cavehook/codecave"
	"github.com/qrdl/cavehook/mem"
)

// RedirectMode selects the stub written over the patch site.
type RedirectMode int

const (
	// RedirectAbsolute always uses `mov rax, imm64; call rax`
	RedirectAbsolute RedirectMode = iota
	// RedirectNearest uses `call rel32` when the trampoline is in range, absolute form otherwise
	RedirectNearest
)

var redirectNames = map[RedirectMode]string{
	RedirectAbsolute: "absolute",
	RedirectNearest:  "nearest",
}

func (r RedirectMode) String() string {
	if name, ok := redirectNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RedirectMode(%d)", int(r))
}

// ParseRedirectMode is the reverse of [RedirectMode.String].
func ParseRedirectMode(s string) (RedirectMode, error) {
	for mode, name := range redirectNames {
		if strings.EqualFold(s, name) {
			return mode, nil
		}
	}
	return 0, errors.Errorf("unknown redirect mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r RedirectMode) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RedirectMode) UnmarshalText(text []byte) error {
	mode, err := ParseRedirectMode(string(text))
	if err != nil {
		return err
	}
	*r = mode
	return nil
}

// Set and Type make RedirectMode usable as a command line flag.
func (r *RedirectMode) Set(s string) error {
	return r.UnmarshalText([]byte(s))
}

func (r *RedirectMode) Type() string {
	return "absolute|nearest"
}

// Engine installs and removes hooks in a single address space. It is not safe for concurrent use.
type Engine struct {
	mem      mem.Memory
	cave     *codecave.Allocator
	log      logrus.FieldLogger
	redirect RedirectMode
	helper   uintptr // routine copying the backup back for full hooks, 0 until emitted
	hooks    map[uintptr]*Trampoline
}

// Option configures [Engine].
type Option func(*Engine)

// WithLogger sets logger for progress and failure reports. Default is logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithRedirect sets redirect stub flavour. Default is [RedirectAbsolute].
func WithRedirect(mode RedirectMode) Option {
	return func(e *Engine) {
		e.redirect = mode
	}
}

// WithRestoreHelper makes full hooks call the existing routine at addr to copy displaced bytes back, instead of
// emitting one into the codecave. The routine must follow Win64 memcpy convention: rcx = dst, rdx = src,
// r8 = length.
func WithRestoreHelper(addr uintptr) Option {
	return func(e *Engine) {
		e.helper = addr
	}
}

// New creates engine patching m and placing trampolines into cave.
func New(m mem.Memory, cave *codecave.Allocator, opts ...Option) *Engine {
	e := &Engine{
		mem:   m,
		cave:  cave,
		log:   logrus.StandardLogger(),
		hooks: make(map[uintptr]*Trampoline),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hooks returns installed hooks ordered by target address.
func (e *Engine) Hooks() []*Trampoline {
	res := make([]*Trampoline, 0, len(e.hooks))
	for _, t := range e.hooks {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Target < res[j].Target
	})
	return res
}

// stubSize returns size of the redirect from site to a trampoline placed at tramp.
func (e *Engine) stubSize(site, tramp uintptr) int {
	if e.redirect == RedirectNearest && asm.RelativeFits(site+asm.RelativeCallLen, tramp) {
		return asm.RelativeCallLen
	}
	return asm.AbsoluteCallLen
}

// redirectStub returns code of the given size calling tramp.
func redirectStub(tramp uintptr, size int) asm.Program {
	if size == asm.RelativeCallLen {
		return asm.Program{asm.CallRel32{Target: tramp}}
	}
	return asm.AbsoluteCall(tramp)
}

// overlapping returns hook whose patch site intersects [addr, addr+n).
func (e *Engine) overlapping(addr uintptr, n int) *Trampoline {
	for _, t := range e.hooks {
		if addr < t.Target+uintptr(t.BackedUpByteCount) && t.Target < addr+uintptr(n) {
			return t
		}
	}
	return nil
}

// fail logs err with fields and returns it, so every failure is reported where the engine gives up.
func (e *Engine) fail(err error, fields logrus.Fields) error {
	e.log.WithFields(fields).Error(err.Error())
	return err
}

func hex(addr uintptr) string {
	return fmt.Sprintf("%#x", addr)
}
