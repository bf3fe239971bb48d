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

// calcBoundaries returns start of the page containing addr and the size of the area from that start to addr+size.
func calcBoundaries(addr uintptr, size int, pageSize uintptr) (uintptr, uintptr) {
	areaStart := addr &^ (pageSize - 1)
	areaSize := (addr + uintptr(size)) - areaStart

	return areaStart, areaSize
}

// pageCount returns number of pages needed to cover an area of given size starting at page boundary.
func pageCount(size, pageSize uintptr) int {
	return int((size + pageSize - 1) / pageSize)
}
