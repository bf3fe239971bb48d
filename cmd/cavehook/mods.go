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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qrdl/cavehook/modloader"
)

var modsCmd = &cobra.Command{
	Use:   "mods [dir]",
	Short: "List mods found in directory, ./mods by default",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMods,
}

func runMods(cmd *cobra.Command, args []string) error {
	dir := "mods"
	if len(args) > 0 {
		dir = args[0]
	}
	mods, err := modloader.Discover(dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tMAIN")
	for _, m := range mods {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Version, m.MainPath())
		log.WithField("mod", m.ID).Debug(m.Description)
	}
	return w.Flush()
}
