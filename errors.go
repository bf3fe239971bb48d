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
	"github.com/pkg/errors"
)

var (
	// ErrAlreadyHooked means the patch site overlaps a hook installed earlier
	ErrAlreadyHooked = errors.New("address is already hooked")
	// ErrHookNotFound means the trampoline wasn't installed by this engine
	ErrHookNotFound = errors.New("hook not found")
	// ErrHookRemoved means the hook has been removed already
	ErrHookRemoved = errors.New("hook already removed")
	// ErrSiteModified means the patch site holds neither the redirect nor the original code
	ErrSiteModified = errors.New("patch site modified by someone else")
	// ErrInvalidScratch means negative scratch size
	ErrInvalidScratch = errors.New("invalid scratch size")
	// ErrInvalidConfig means configuration failed validation
	ErrInvalidConfig = errors.New("invalid configuration")
)
