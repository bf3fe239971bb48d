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

package mem

import (
	"github.com/pkg/errors"
)

// Buffer is a simulated address space of a fixed size, starting at a page-aligned base address.
// All pages are readable when buffer is created. Stores to pages without write permission fail with [ErrFault].
type Buffer struct {
	base     uintptr
	data     []byte
	pageSize int
	prot     []Prot // one per page
}

var _ Memory = (*Buffer)(nil)

// NewBuffer creates simulated address space [base, base+size). Size is rounded up to a whole number of pages.
// It panics if pageSize is not a power of two or base is not page-aligned.
func NewBuffer(base uintptr, size, pageSize int) *Buffer {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		panic("page size must be a power of two")
	}
	if base&uintptr(pageSize-1) != 0 {
		panic("base address must be page-aligned")
	}
	pages := pageCount(uintptr(size), uintptr(pageSize))
	b := &Buffer{
		base:     base,
		data:     make([]byte, pages*pageSize),
		pageSize: pageSize,
		prot:     make([]Prot, pages),
	}
	for i := range b.prot {
		b.prot[i] = ProtRead
	}
	return b
}

// Base returns the lowest address of the buffer.
func (b *Buffer) Base() uintptr {
	return b.base
}

// End returns the address right after the last byte of the buffer.
func (b *Buffer) End() uintptr {
	return b.base + uintptr(len(b.data))
}

// Map loads data at addr and sets protection of the pages it covers, the way a loader maps an image.
func (b *Buffer) Map(addr uintptr, data []byte, prot Prot) error {
	off, err := b.offset(addr, len(data))
	if err != nil {
		return err
	}
	copy(b.data[off:], data)
	return b.Protect(addr, len(data), prot)
}

func (b *Buffer) PageSize() int {
	return b.pageSize
}

func (b *Buffer) Read(addr uintptr, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Errorf("invalid size %d", n)
	}
	if addr < b.base || addr >= b.End() {
		return nil, errors.Wrapf(ErrOutOfRange, "read at %#x", addr)
	}
	if rest := int(b.End() - addr); n > rest {
		n = rest
	}
	off := int(addr - b.base)
	for p := off / b.pageSize; p <= (off+n-1)/b.pageSize; p++ {
		if b.prot[p]&ProtRead == 0 {
			return nil, errors.Wrapf(ErrFault, "read at %#x", b.base+uintptr(p*b.pageSize))
		}
	}
	res := make([]byte, n)
	copy(res, b.data[off:off+n])
	return res, nil
}

func (b *Buffer) Query(addr uintptr, n int) ([]Region, error) {
	off, err := b.offset(addr, n)
	if err != nil {
		return nil, err
	}
	var regions []Region
	end := addr + uintptr(n)
	for p := off / b.pageSize; p <= (off+n-1)/b.pageSize; p++ {
		start := b.base + uintptr(p*b.pageSize)
		stop := start + uintptr(b.pageSize)
		if start < addr {
			start = addr
		}
		if stop > end {
			stop = end
		}
		if last := len(regions) - 1; last >= 0 && regions[last].Prot == b.prot[p] {
			regions[last].End = stop
			continue
		}
		regions = append(regions, Region{Start: start, End: stop, Prot: b.prot[p]})
	}
	return regions, nil
}

func (b *Buffer) Protect(addr uintptr, n int, prot Prot) error {
	if _, err := b.offset(addr, n); err != nil {
		return err
	}
	start, size := calcBoundaries(addr, n, uintptr(b.pageSize))
	first := int(start-b.base) / b.pageSize
	for p := first; p < first+pageCount(size, uintptr(b.pageSize)); p++ {
		b.prot[p] = prot
	}
	return nil
}

func (b *Buffer) store(addr uintptr, data []byte) error {
	off, err := b.offset(addr, len(data))
	if err != nil {
		return err
	}
	for p := off / b.pageSize; p <= (off+len(data)-1)/b.pageSize; p++ {
		if b.prot[p]&ProtWrite == 0 {
			return errors.Wrapf(ErrFault, "write to %s page at %#x", b.prot[p], b.base+uintptr(p*b.pageSize))
		}
	}
	copy(b.data[off:], data)
	return nil
}

// offset validates that [addr, addr+n) lies within the buffer and returns offset of addr.
func (b *Buffer) offset(addr uintptr, n int) (int, error) {
	if n <= 0 {
		return 0, errors.Errorf("invalid size %d", n)
	}
	if addr < b.base || addr+uintptr(n) > b.End() || addr+uintptr(n) < addr {
		return 0, errors.Wrapf(ErrOutOfRange, "range [%#x, %#x)", addr, addr+uintptr(n))
	}
	return int(addr - b.base), nil
}
