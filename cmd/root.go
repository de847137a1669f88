package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/btctest/node-harness/cmd/run"
)

var Version = ""

var rootCmd = &cobra.Command{
	Use:        "node-harness",
	Short:      "node-harness commands",
	SuggestFor: []string{"nodeharness"},
	Version:    Version,
}

func init() {
	cobra.EnablePrefixMatching = true
}

func init() {
	rootCmd.AddCommand(
		run.NewCommand(),
	)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "node-harness failed %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
