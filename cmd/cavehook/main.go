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

// Command cavehook inspects x86-64 code the way the hooking engine sees it and simulates hook installation on a
// memory image.
package main

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qrdl/cavehook/internal/console"
	"github.com/qrdl/cavehook/modloader"
	"github.com/qrdl/cavehook/x86len"
)

var (
	verbose bool
	log     = console.New(os.Stderr, logrus.InfoLevel)
)

var rootCmd = &cobra.Command{
	Use:           "cavehook",
	Short:         "Inline hooking toolbox for x86-64 code",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		log.SetOutput(cmd.ErrOrStderr())
		log.SetLevel(logrus.InfoLevel)
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
		x86len.SetLogger(log)
		modloader.SetLogger(log)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	rootCmd.AddCommand(decodeCmd, planCmd, simulateCmd, modsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

// parseHex decodes machine code written as hex digits, optionally separated by whitespace.
func parseHex(s string) ([]byte, error) {
	code, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex code")
	}
	if len(code) == 0 {
		return nil, errors.New("no code")
	}
	return code, nil
}
