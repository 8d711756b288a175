package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd checks a problem file and the active configuration without
// spawning any external process.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <problem.json>",
		Short: "Validate a problem file and the active configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			spec, err := loadProblemSpec(args[0])
			if err != nil {
				return err
			}

			if _, err := buildDriver(cfg, spec, cfg.Storage.WorkDir); err != nil {
				return fmt.Errorf("problem file: %w", err)
			}

			fmt.Printf("problem file %s is valid: %d variable(s), %d equality, %d upper, %d lower, %d range constraint(s)\n",
				args[0], len(spec.Variables), len(spec.Equality), len(spec.UpperBound), len(spec.LowerBound), len(spec.Range))
			return nil
		},
	}
}
