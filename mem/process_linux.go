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
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const mapsFile = "/proc/self/maps"

func (p *process) Protect(addr uintptr, n int, prot Prot) error {
	start, size := calcBoundaries(addr, n, uintptr(p.pageSize))

	page := unsafe.Slice((*uint8)(unsafe.Pointer(start)), size)
	return unix.Mprotect(page, unixProt(prot))
}

// Query reads protection from /proc/self/maps, because mprotect(2) doesn't report previous flags.
func (p *process) Query(addr uintptr, n int) ([]Region, error) {
	f, err := os.Open(mapsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseMaps(f, addr, n)
}

func unixProt(prot Prot) int {
	res := unix.PROT_NONE
	if prot&ProtRead != 0 {
		res |= unix.PROT_READ
	}
	if prot&ProtWrite != 0 {
		res |= unix.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		res |= unix.PROT_EXEC
	}
	return res
}

// parseMaps returns mappings from maps(5) formatted r that overlap [addr, addr+n), clipped to that range.
// Every byte of the range must be mapped.
func parseMaps(r io.Reader, addr uintptr, n int) ([]Region, error) {
	end := addr + uintptr(n)
	next := addr // first byte not covered yet
	var regions []Region

	scanner := bufio.NewScanner(r)
	for scanner.Scan() && next < end {
		// 7f5e2a000000-7f5e2a021000 rw-p 00000000 00:00 0
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, errors.Errorf("malformed mapping %q", fields[0])
		}
		lo, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed mapping %q", fields[0])
		}
		hi, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed mapping %q", fields[0])
		}
		start, stop := uintptr(lo), uintptr(hi)
		if stop <= next {
			continue
		}
		if start > next {
			break // hole
		}
		if stop > end {
			stop = end
		}
		regions = append(regions, Region{Start: next, End: stop, Prot: parsePerms(fields[1])})
		next = stop
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if next < end {
		return nil, errors.Wrapf(ErrOutOfRange, "address %#x is not mapped", next)
	}
	return regions, nil
}

func parsePerms(perms string) Prot {
	var prot Prot
	if strings.HasPrefix(perms, "r") {
		prot |= ProtRead
	}
	if len(perms) > 1 && perms[1] == 'w' {
		prot |= ProtWrite
	}
	if len(perms) > 2 && perms[2] == 'x' {
		prot |= ProtExec
	}
	return prot
}
