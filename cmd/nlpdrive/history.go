package main

import (
	"fmt"

	"github.com/longregen/nlpdrive/internal/historian"
	"github.com/spf13/cobra"
)

// historyCmd replays a past run's mirrored log/history lines from Postgres,
// for when the local work directory has already been cleaned up.
func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <run-id>",
		Short: "Show a past run's evaluations from the Postgres historian",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.IsDatabaseConfigured() {
				return fmt.Errorf("history requires NLPDRIVE_POSTGRES_URL to be set")
			}

			ctx := cmd.Context()
			pool, err := historian.Connect(ctx, historian.DBConfig{
				URL:      cfg.Database.PostgresURL,
				Timezone: cfg.Database.Timezone,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			lines, err := historian.QueryRun(ctx, pool, args[0])
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				fmt.Printf("no lines recorded for run %s\n", args[0])
				return nil
			}

			for _, l := range lines {
				fmt.Printf("[%04d] %-8s objective=%.10g\n", l.Iteration, l.Kind, l.Objective)
				for name, value := range l.FunctionValues {
					fmt.Printf("         %-20s %.10g\n", name, value)
				}
			}
			return nil
		},
	}
}
