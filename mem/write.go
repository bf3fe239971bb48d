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
	stderrors "errors"

	"github.com/pkg/errors"
)

// Write copies src to dst. Pages covering the destination are made writable and executable for the duration of
// the copy, then every region gets its previous protection back, also when the copy fails.
func Write(m Memory, dst uintptr, src []byte) (err error) {
	if len(src) == 0 {
		return nil
	}

	prior, err := m.Query(dst, len(src))
	if err != nil {
		return errors.WithMessagef(err, "failed to query protection at %#x", dst)
	}

	if err = m.Protect(dst, len(src), ProtRWX); err != nil {
		return errors.WithMessagef(err, "failed to make %#x writable", dst)
	}
	defer func() {
		for _, r := range prior {
			if rerr := m.Protect(r.Start, r.Len(), r.Prot); rerr != nil {
				rerr = errors.WithMessagef(rerr, "failed to restore %s protection at %#x", r.Prot, r.Start)
				err = stderrors.Join(err, rerr)
			}
		}
	}()

	if err = m.store(dst, src); err != nil {
		return errors.WithMessagef(err, "failed to write %d bytes at %#x", len(src), dst)
	}
	return nil
}

// Fill writes n copies of b to dst, with the same protection handling as [Write].
func Fill(m Memory, dst uintptr, b byte, n int) error {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return Write(m, dst, buf)
}
