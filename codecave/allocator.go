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

// Package codecave hands out executable memory from a fixed, pre-existing region of the host address space.
//
// Allocation is a monotonic bump of a cursor: there is no free operation, hooks are installed once and
// stay for the lifetime of the process.
package codecave

import (
	"github.com/pkg/errors"

	"github.com/qrdl/cavehook/mem"
)

var (
	// ErrExhausted means the region has no room for the requested size
	ErrExhausted = errors.New("no more free space in codecave")
	// ErrInvalidSize means requested size is not positive
	ErrInvalidSize = errors.New("invalid allocation size")
	// ErrInvalidRegion means region end is not above its base
	ErrInvalidRegion = errors.New("invalid codecave region")
)

// Region is the address range [Base, End) reserved for injected code.
type Region struct {
	Base uintptr `yaml:"base"`
	End  uintptr `yaml:"end"`
}

// DefaultRegion is the padding area of the host executable used as codecave.
var DefaultRegion = Region{
	Base: 0x0000000142BEC100,
	End:  0x0000000142BED0B5,
}

// Size returns capacity of the region in bytes.
func (r Region) Size() int {
	return int(r.End - r.Base)
}

// Validate checks that region is not empty.
func (r Region) Validate() error {
	if r.End <= r.Base {
		return errors.Wrapf(ErrInvalidRegion, "[%#x, %#x)", r.Base, r.End)
	}
	return nil
}

// Allocator is a bump allocator over a single [Region].
type Allocator struct {
	mem    mem.Memory
	region Region
	cursor uintptr
}

// New creates allocator with the cursor at the base of r.
func New(m mem.Memory, r Region) (*Allocator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Allocator{mem: m, region: r, cursor: r.Base}, nil
}

// Allocate returns the address of size bytes of executable and writable memory. The cursor is not moved
// when the allocation fails.
func (a *Allocator) Allocate(size int) (uintptr, error) {
	if size <= 0 {
		return 0, errors.Wrapf(ErrInvalidSize, "%d", size)
	}
	if size > a.Remaining() {
		return 0, errors.Wrapf(ErrExhausted, "requested %d bytes, %d left", size, a.Remaining())
	}

	addr := a.cursor
	if err := a.mem.Protect(addr, size, mem.ProtRWX); err != nil {
		return 0, errors.WithMessagef(err, "failed to make codecave at %#x executable", addr)
	}
	a.cursor += uintptr(size)

	return addr, nil
}

// Next returns the address the next allocation will start at.
func (a *Allocator) Next() uintptr {
	return a.cursor
}

// Remaining returns number of bytes still available.
func (a *Allocator) Remaining() int {
	return int(a.region.End - a.cursor)
}

// Region returns the region the allocator serves.
func (a *Allocator) Region() Region {
	return a.region
}
