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
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func (p *process) Protect(addr uintptr, n int, prot Prot) error {
	var oldPerms uint32
	return windows.VirtualProtect(addr, uintptr(n), windowsProt(prot), &oldPerms)
}

func (p *process) Query(addr uintptr, n int) ([]Region, error) {
	end := addr + uintptr(n)
	var regions []Region
	for next := addr; next < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(next, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return nil, errors.Wrapf(err, "VirtualQuery at %#x", next)
		}
		if mbi.State != windows.MEM_COMMIT {
			return nil, errors.Wrapf(ErrOutOfRange, "address %#x is not committed", next)
		}
		stop := mbi.BaseAddress + mbi.RegionSize
		if stop > end {
			stop = end
		}
		regions = append(regions, Region{Start: next, End: stop, Prot: fromWindowsProt(mbi.Protect)})
		next = stop
	}
	return regions, nil
}

func windowsProt(prot Prot) uint32 {
	switch prot {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtRW:
		return windows.PAGE_READWRITE
	case ProtExec:
		return windows.PAGE_EXECUTE
	case ProtRX:
		return windows.PAGE_EXECUTE_READ
	case ProtRWX, ProtWrite | ProtExec:
		return windows.PAGE_EXECUTE_READWRITE
	case ProtWrite:
		return windows.PAGE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func fromWindowsProt(protect uint32) Prot {
	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtRW
	case windows.PAGE_EXECUTE:
		return ProtExec
	case windows.PAGE_EXECUTE_READ:
		return ProtRX
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtRWX
	default:
		return ProtNone
	}
}
