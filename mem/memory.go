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
Package mem provides address spaces the hooking engine can read, re-protect and patch.

Two implementations are available: [Process] is the address space of the running process, [Buffer] is a simulated
address space with per-page protection, used by tests and by the simulator command.

Memory outside freshly allocated codecave space must only be changed with [Write], which temporarily elevates page
protection and always restores the previous flags.
*/
package mem

import (
	"github.com/pkg/errors"
)

// Prot is a set of page protection flags.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec

	ProtNone Prot = 0
	ProtRX        = ProtRead | ProtExec
	ProtRW        = ProtRead | ProtWrite
	ProtRWX       = ProtRead | ProtWrite | ProtExec
)

var (
	// ErrFault means the access is not allowed by the page protection
	ErrFault = errors.New("memory access fault")
	// ErrOutOfRange means the address is not mapped
	ErrOutOfRange = errors.New("address out of range")
)

// String returns protection in "rwx" notation, like /proc/self/maps does.
func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Region is a contiguous address range [Start, End) sharing the same protection.
type Region struct {
	Start uintptr
	End   uintptr
	Prot  Prot
}

// Len returns the size of the region in bytes.
func (r Region) Len() int {
	return int(r.End - r.Start)
}

// Memory is an address space with page protection.
type Memory interface {
	// Read returns a copy of up to n bytes at addr. The result is shorter than n only when the range runs past
	// the end of the mapping.
	Read(addr uintptr, n int) ([]byte, error)
	// Query returns protection of every region overlapping [addr, addr+n), clipped to that range.
	Query(addr uintptr, n int) ([]Region, error)
	// Protect sets protection of all pages overlapping [addr, addr+n).
	Protect(addr uintptr, n int, prot Prot) error
	// PageSize returns the protection granularity.
	PageSize() int

	// store copies b to addr without touching protection.
	store(addr uintptr, b []byte) error
}
