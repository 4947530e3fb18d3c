package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitgc/orbitgc"
)

func newBenchCommand() *cobra.Command {
	var iterations int

	cmd := &cobra.Command{
		Use:   "bench [scenario]",
		Short: "Run a scenario's full cycle repeatedly and report mean latency",
		Long:  "Available scenarios:\n" + describeScenarios(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := findScenario(args[0])
			if !ok {
				return fmt.Errorf("unknown scenario %q\n\n%s", args[0], describeScenarios())
			}

			var total time.Duration
			for i := 0; i < iterations; i++ {
				universe, _ := s.build()
				cfg := orbitgc.DefaultConfig()
				coord := orbitgc.New(cfg, universe, universe, universe, universe, universe, universe, universe, universe)

				start := time.Now()
				if err := coord.Collect(); err != nil {
					return err
				}
				for {
					done, err := coord.IncrementalPurgeGarbage(0)
					if err != nil {
						return err
					}
					if done {
						break
					}
				}
				total += time.Since(start)
			}

			fmt.Printf("scenario %q: %d iterations, mean %s\n", s.name, iterations, total/time.Duration(iterations))
			return nil
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 50, "number of full collect+purge cycles to run")
	return cmd
}
