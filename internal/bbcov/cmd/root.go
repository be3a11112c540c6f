// Package cmd wires the bbcov command line interface.
package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bbcov",
	Short: "Generate basic block coverage reports from S2E translation block traces",
	Long: `bbcov matches the translation blocks recorded by S2E's
TranslationBlockCoverage plugin against the basic blocks recovered by a
disassembler, and writes the result either as a single aggregated JSON
report or as per-state drcov files.`,
}

func Execute() {
	// Bypass fang's rendering when output is being piped.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
