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

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/qrdl/cavehook"
	"github.com/qrdl/cavehook/codecave"
	"github.com/qrdl/cavehook/mem"
)

const simPageSize = 0x1000

var simOpts = struct {
	config string
	image  string
	base   cavehook.Address
}{
	base: 0x140001000,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Install configured hooks into a simulated address space and dump the result",
	Long: `Install configured hooks into a simulated address space and dump the result.

The image is a file with hex encoded machine code, loaded read-only executable at --base. The codecave comes from
the configuration and must not overlap the image.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simOpts.config, "config", "c", "", "hooks configuration (YAML)")
	simulateCmd.Flags().StringVarP(&simOpts.image, "image", "i", "", "code image (hex)")
	simulateCmd.Flags().Var(&simOpts.base, "base", "address the image is loaded at")
	_ = simulateCmd.MarkFlagRequired("config")
	_ = simulateCmd.MarkFlagRequired("image")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := cavehook.LoadConfig(simOpts.config)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(simOpts.image)
	if err != nil {
		return errors.Wrap(err, "failed to read image")
	}
	image, err := parseHex(string(text))
	if err != nil {
		return err
	}

	buf, err := addressSpace(uintptr(simOpts.base), image, cfg.Region.Region())
	if err != nil {
		return err
	}
	cave, err := codecave.New(buf, cfg.Region.Region())
	if err != nil {
		return err
	}

	engine := cavehook.New(buf, cave, append(cfg.Options(), cavehook.WithLogger(log))...)
	hooks, err := engine.Install(cfg)
	out := cmd.OutOrStdout()
	for _, t := range hooks {
		if derr := dumpHook(out, buf, t); derr != nil {
			return derr
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d hooks installed, %d codecave bytes left\n", len(hooks), cave.Remaining())
	return nil
}

// addressSpace creates buffer spanning both image and codecave.
func addressSpace(base uintptr, image []byte, region codecave.Region) (*mem.Buffer, error) {
	end := base + uintptr(len(image))
	if region.Base < end && base < region.End {
		return nil, errors.Errorf("codecave [%#x, %#x) overlaps image [%#x, %#x)", region.Base, region.End, base, end)
	}

	lo, hi := base, end
	if region.Base < lo {
		lo = region.Base
	}
	if region.End > hi {
		hi = region.End
	}
	lo &^= simPageSize - 1
	buf := mem.NewBuffer(lo, int(hi-lo), simPageSize)
	if err := buf.Map(base, image, mem.ProtRX); err != nil {
		return nil, err
	}

	return buf, nil
}

func dumpHook(w io.Writer, buf *mem.Buffer, t *cavehook.Trampoline) error {
	kind := "call-through"
	if t.Full {
		kind = "full"
	}
	fmt.Fprintf(w, "%s hook %#x -> %#x, trampoline %#x (%d bytes)\n", kind, t.Target, t.Replacement, t.Address, t.Size)

	site, err := buf.Read(t.Target, t.BackedUpByteCount)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "patched site:\n%s", hex.Dump(site))

	code, err := buf.Read(t.Address, t.Size)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "trampoline:\n%s\n", hex.Dump(code))

	return nil
}
