package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orbitgc/orbitgc"
)

func newRunCommand() *cobra.Command {
	var tickMillis int

	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Build a seeded scenario and run one collection cycle to completion",
		Long:  "Available scenarios:\n" + describeScenarios(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := findScenario(args[0])
			if !ok {
				return fmt.Errorf("unknown scenario %q\n\n%s", args[0], describeScenarios())
			}
			universe, total := s.build()

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			cfg := orbitgc.DefaultConfig()
			cfg.Logger = logger

			coord := orbitgc.New(cfg, universe, universe, universe, universe, universe, universe, universe, universe)

			if err := coord.Collect(); err != nil {
				return err
			}

			tick := time.Duration(tickMillis) * time.Millisecond
			for {
				done, err := coord.IncrementalPurgeGarbage(tick)
				if err != nil {
					return err
				}
				if done {
					break
				}
			}

			fmt.Printf("scenario %q: %d objects seeded\n", s.name, total)
			return nil
		},
	}
	cmd.Flags().IntVar(&tickMillis, "tick-ms", 2, "milliseconds of destruction work to perform per IncrementalPurgeGarbage call")
	return cmd
}
