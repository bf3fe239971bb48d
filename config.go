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
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/qrdl/cavehook/codecave"
)

// Address is an address accepted in YAML as integer or "0x" hex string.
type Address uintptr

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: address must be a scalar", value.Line)
	}
	return errors.WithMessagef(a.Set(value.Value), "line %d", value.Line)
}

// MarshalYAML implements yaml.Marshaler, addresses are written in hex.
func (a Address) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Set parses integer in any Go notation, so Address can be a command line flag.
func (a *Address) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid address %q", s)
	}
	*a = Address(v)
	return nil
}

func (a *Address) Type() string {
	return "address"
}

// RegionConfig is the codecave bounds.
type RegionConfig struct {
	Base Address `yaml:"base"`
	End  Address `yaml:"end"`
}

// Region converts bounds to allocator region.
func (r RegionConfig) Region() codecave.Region {
	return codecave.Region{Base: uintptr(r.Base), End: uintptr(r.End)}
}

// HookConfig is a single hook to install.
type HookConfig struct {
	Target      Address `yaml:"target"`
	Replacement Address `yaml:"replacement"`
	Scratch     *int    `yaml:"scratch,omitempty"` // Config.Scratch when not set
	Full        bool    `yaml:"full,omitempty"`
}

// scratch returns scratch size of a call-through hook.
func (h HookConfig) scratch(def int) int {
	if h.Scratch == nil {
		return def
	}
	return *h.Scratch
}

// Config is engine configuration, normally loaded from YAML:
//
//	region:
//	  base: 0x142BEC100
//	  end: 0x142BED0B5
//	redirect: nearest
//	hooks:
//	  - target: 0x140001000
//	    replacement: 0x140002000
//	    scratch: 16
//	  - target: 0x140001100
//	    replacement: 0x140002100
//	    full: true
type Config struct {
	Region        RegionConfig `yaml:"region"`
	Redirect      RedirectMode `yaml:"redirect"`
	Scratch       int          `yaml:"scratch"` // default scratch of call-through hooks
	RestoreHelper Address      `yaml:"restore_helper,omitempty"`
	Hooks         []HookConfig `yaml:"hooks,omitempty"`
}

// DefaultConfig returns configuration for the default codecave with absolute redirects.
func DefaultConfig() Config {
	return Config{
		Region: RegionConfig{
			Base: Address(codecave.DefaultRegion.Base),
			End:  Address(codecave.DefaultRegion.End),
		},
		Redirect: RedirectAbsolute,
	}
}

// LoadConfig reads YAML file at path on top of [DefaultConfig] and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}
	return ParseConfig(data)
}

// ParseConfig is [LoadConfig] for in-memory YAML.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c Config) Validate() error {
	if err := c.Region.Region().Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if _, ok := redirectNames[c.Redirect]; !ok {
		return errors.Wrapf(ErrInvalidConfig, "redirect mode %d", int(c.Redirect))
	}
	if c.Scratch < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative scratch %d", c.Scratch)
	}
	for i, h := range c.Hooks {
		switch {
		case h.Target == 0:
			return errors.Wrapf(ErrInvalidConfig, "hook #%d: no target", i)
		case h.Replacement == 0:
			return errors.Wrapf(ErrInvalidConfig, "hook #%d: no replacement", i)
		case h.scratch(0) < 0:
			return errors.Wrapf(ErrInvalidConfig, "hook #%d: negative scratch %d", i, *h.Scratch)
		case h.Full && h.scratch(0) != 0:
			return errors.Wrapf(ErrInvalidConfig, "hook #%d: full hook has fixed scratch", i)
		}
	}
	return nil
}

// Options returns engine options matching the configuration.
func (c Config) Options() []Option {
	opts := []Option{WithRedirect(c.Redirect)}
	if c.RestoreHelper != 0 {
		opts = append(opts, WithRestoreHelper(uintptr(c.RestoreHelper)))
	}
	return opts
}

// Install installs every configured hook in order, stopping at the first failure.
func (e *Engine) Install(c Config) ([]*Trampoline, error) {
	res := make([]*Trampoline, 0, len(c.Hooks))
	for _, h := range c.Hooks {
		var (
			t   *Trampoline
			err error
		)
		if h.Full {
			t, err = e.Hook(uintptr(h.Target), uintptr(h.Replacement))
		} else {
			t, err = e.InstallHook(uintptr(h.Target), uintptr(h.Replacement), h.scratch(c.Scratch))
		}
		if err != nil {
			return res, err
		}
		res = append(res, t)
	}
	return res, nil
}
