// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var verbose bool

// Translate compiles one declarative source file into flat assembly text.
func Translate(source, target string, headers []string) (string, error) {
	arch, err := GetArch(target)
	if err != nil {
		return "", err
	}
	ctx := NewCompilationContext(arch)
	ctx.Verbose = verbose

	for _, header := range headers {
		if err := ImportHeader(ctx, header); err != nil {
			return "", err
		}
	}

	f, err := os.Open(source)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	unit := NewUnit(source, ctx)
	if err := unit.Parse(f); err != nil {
		return "", err
	}
	return unit.Generate()
}

var command = &cobra.Command{
	Use:  "procgen source [-o output] [-t target]",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source := args[0]
		output, _ := cmd.PersistentFlags().GetString("output")
		if output == "" {
			sourceExt := filepath.Ext(source)
			output = source[:len(source)-len(sourceExt)] + ".s"
		}
		target, _ := cmd.PersistentFlags().GetString("target")
		headers, _ := cmd.PersistentFlags().GetStringSlice("import-header")

		text, err := Translate(source, target, headers)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	command.PersistentFlags().StringP("output", "o", "", "output path of the generated assembly")
	command.PersistentFlags().StringP("target", "t", "x64", "target architecture (x86, x64)")
	command.PersistentFlags().StringSliceP("import-header", "I", nil, "C header whose declarations become external prototypes")
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "if set, increase verbosity level")
}

func main() {
	if err := command.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
