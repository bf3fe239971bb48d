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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qrdl/cavehook/x86len"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Print length of every instruction in code",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	code, err := parseHex(args[0])
	if err != nil {
		return err
	}

	spans, _, err := x86len.Walk(code, len(code))
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "OFFSET\tLEN\tBYTES\tINSTRUCTION\tRELATIVE")
	for _, s := range spans {
		insn := code[s.Offset : s.Offset+s.Len]
		fmt.Fprintf(w, "%#04x\t%d\t%s\t%s\t%t\n",
			s.Offset, s.Len, hex.EncodeToString(insn), x86len.Disassemble(insn, uint64(s.Offset)), x86len.Relative(insn))
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}

	return err
}
