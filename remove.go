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
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qrdl/cavehook/internal/console"
	"github.com/qrdl/cavehook/mem"
)

// RemoveHook puts the displaced bytes back at the patch site. The trampoline stays in the codecave, as codecave
// space is never freed.
//
// A full hook that has already fired restored the site by itself, then it is only marked as removed.
func (e *Engine) RemoveHook(t *Trampoline) error {
	if t == nil || t.owner != e {
		return e.fail(ErrHookNotFound, nil)
	}
	fields := logrus.Fields{"target": hex(t.Target)}
	if t.removed {
		return e.fail(errors.Wrapf(ErrHookRemoved, "%#x", t.Target), fields)
	}
	if e.hooks[t.Target] != t {
		return e.fail(errors.Wrapf(ErrHookNotFound, "%#x", t.Target), fields)
	}

	current, err := e.mem.Read(t.Target, t.BackedUpByteCount)
	if err != nil {
		return e.fail(errors.WithMessagef(err, "failed to read patch site %#x", t.Target), fields)
	}

	switch xxhash.Sum64(current) {
	case t.patchSum:
		if err = mem.Write(e.mem, t.Target, t.Backup); err != nil {
			return e.fail(errors.WithMessagef(err, "failed to restore %#x", t.Target), fields)
		}
	case t.origSum:
		e.log.WithFields(fields).Debug("Original code already in place")
	default:
		return e.fail(errors.Wrapf(ErrSiteModified, "%#x", t.Target), fields)
	}

	// full hook left the site writable
	for _, r := range t.prior {
		if err = e.mem.Protect(r.Start, r.Len(), r.Prot); err != nil {
			return e.fail(errors.WithMessagef(err, "failed to restore %s protection at %#x", r.Prot, r.Start), fields)
		}
	}

	delete(e.hooks, t.Target)
	t.removed = true
	console.Success(e.log, "Unhooked %#x", t.Target)

	return nil
}
