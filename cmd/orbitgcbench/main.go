// Command orbitgcbench seeds the scenarios a Coordinator is expected to
// handle correctly and drives one against an objfixture.Universe, for
// manual exercise and rough benchmarking. It is not part of the orbitgc
// public API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orbitgcbench",
		Short: "Exercise orbitgc.Coordinator against seeded object graphs",
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newBenchCommand())
	return cmd
}
