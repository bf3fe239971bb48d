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

//go:build linux || windows

package mem

import (
	"os"
	"unsafe"
)

// process is the address space of the running process.
type process struct {
	pageSize int
}

var self = &process{pageSize: os.Getpagesize()}

// Process returns the address space of the running process. Reading or writing an unmapped address crashes
// the process, exactly like the patched code would.
func Process() Memory {
	return self
}

func (p *process) PageSize() int {
	return p.pageSize
}

func (p *process) Read(addr uintptr, n int) ([]byte, error) {
	res := make([]byte, n)
	copy(res, unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
	return res, nil
}

func (p *process) store(addr uintptr, b []byte) error {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)), b)
	return nil
}
