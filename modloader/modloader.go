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

// Package modloader discovers mods, each being a directory with mod.json manifest and an entry script.
//
//	mods/
//	  example/
//	    mod.json    {"id": "example", "name": "Example", "version": "1.0", "main": "main.js"}
//	    main.js
//
// Scripts are returned as opaque bytes, running them is up to the host.
package modloader

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ManifestName is the manifest file expected in every mod directory.
const ManifestName = "mod.json"

var (
	ErrNoManifest = errors.New("mod has no manifest")
	ErrNoID       = errors.New("manifest has no id")
)

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger sets logger used to report skipped mods.
func SetLogger(l logrus.FieldLogger) {
	log = l
}

type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Main        string `json:"main"`
}

// Mod is a discovered mod.
type Mod struct {
	Manifest
	Dir string // mod directory
}

// Load reads manifest of the mod in dir.
func Load(dir string) (Mod, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return Mod{}, errors.Wrap(ErrNoManifest, dir)
		}
		return Mod{}, errors.WithMessage(err, "failed to read manifest")
	}

	mod := Mod{Dir: dir}
	if err = json.Unmarshal(data, &mod.Manifest); err != nil {
		return Mod{}, errors.Wrapf(err, "invalid manifest in %s", dir)
	}
	if mod.ID == "" {
		return Mod{}, errors.Wrap(ErrNoID, dir)
	}
	return mod, nil
}

// Discover returns mods found in subdirectories of dir, in directory name order. Mods without readable and valid
// manifest are skipped with a warning.
func Discover(dir string) ([]Mod, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to list mods")
	}

	var mods []Mod
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		mod, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.WithField("mod", entry.Name()).Warnf("Skipping mod: %v", err)
			continue
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// MainPath returns path of the entry script.
func (m Mod) MainPath() string {
	return filepath.Join(m.Dir, m.Main)
}

// ReadMain returns contents of the entry script.
func (m Mod) ReadMain() ([]byte, error) {
	if m.Main == "" {
		return nil, errors.Errorf("mod %s has no entry script", m.ID)
	}
	data, err := os.ReadFile(m.MainPath())
	return data, errors.WithMessagef(err, "failed to read entry script of %s", m.ID)
}
