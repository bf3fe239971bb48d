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

	"github.com/spf13/cobra"

	"github.com/qrdl/cavehook"
	"github.com/qrdl/cavehook/codecave"
	"github.com/qrdl/cavehook/mem"
	"github.com/qrdl/cavehook/x86len"
)

const planPageSize = 0x1000

var planOpts = struct {
	address  cavehook.Address
	redirect cavehook.RedirectMode
}{
	address: 0x140001000,
}

var planCmd = &cobra.Command{
	Use:   "plan <hex>",
	Short: "Show instructions a hook at the start of code would displace",
	Long: `Show instructions a hook at the start of code would displace.

Code is placed at --address and the trampoline is assumed to go to the page right after it.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().Var(&planOpts.address, "address", "address of the code")
	planCmd.Flags().Var(&planOpts.redirect, "redirect", "redirect stub")
}

func runPlan(cmd *cobra.Command, args []string) error {
	code, err := parseHex(args[0])
	if err != nil {
		return err
	}

	addr := uintptr(planOpts.address)
	base := addr &^ (planPageSize - 1)
	caveBase := (addr + uintptr(len(code)) + planPageSize) &^ (planPageSize - 1)
	buf := mem.NewBuffer(base, int(caveBase-base)+planPageSize, planPageSize)
	if err = buf.Map(addr, code, mem.ProtRX); err != nil {
		return err
	}
	cave, err := codecave.New(buf, codecave.Region{Base: caveBase, End: caveBase + planPageSize})
	if err != nil {
		return err
	}

	engine := cavehook.New(buf, cave, cavehook.WithLogger(log), cavehook.WithRedirect(planOpts.redirect))
	site, err := engine.Plan(addr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "stub: %d bytes (%s)\n", site.StubSize, planOpts.redirect)
	fmt.Fprintf(out, "displaced: %d bytes, tail %d\n", site.DisplacedLen, site.Tail())
	for _, s := range site.Instructions {
		insn := site.Code[s.Offset : s.Offset+s.Len]
		fmt.Fprintf(out, "  %#x  %-30s %s\n", addr+uintptr(s.Offset), hex.EncodeToString(insn),
			x86len.Disassemble(insn, uint64(addr)+uint64(s.Offset)))
	}
	if site.Relative {
		fmt.Fprintln(out, "warning: position dependent code is displaced")
	}
	if site.StackRelative {
		fmt.Fprintln(out, "warning: displaced code uses the stack")
	}

	return nil
}
