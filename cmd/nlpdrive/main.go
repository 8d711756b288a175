package main

import (
	"fmt"
	"os"

	"github.com/longregen/nlpdrive/internal/config"
	"github.com/longregen/nlpdrive/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nlpdrive",
		Short: "nlpdrive - external-process evaluation-coordination engine",
		Long: `nlpdrive drives an exterior-penalty objective over design variables
whose values and gradients come from external solver processes.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			res, err := logging.Init(logging.Config{
				ServiceName: "nlpdrive",
				Verbose:     cfg.Logging.Verbose,
				TraceOutput: cfg.Logging.TraceOutput,
				LogFilePath: cfg.Logging.LogFile,
			})
			if err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}
			logger = res.Logger

			return nil
		},
	}

	rootCmd.AddCommand(
		runCmd(),
		validateCmd(),
		historyCmd(),
		serveCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Storage:")
			fmt.Printf("  Work dir:     %s\n", cfg.Storage.WorkDir)
			fmt.Printf("  Dir prefix:   %s\n", cfg.Storage.DirPrefix)
			fmt.Printf("  Keep designs: %v\n", cfg.Storage.KeepDesigns)
			fmt.Printf("  Failure mode: %s\n", cfg.Storage.FailureMode)
			fmt.Printf("  Max tries:    %d\n", cfg.Storage.MaxRunTries)
			fmt.Println()

			fmt.Println("Penalty:")
			fmt.Printf("  r_ini:       %g\n", cfg.Penalty.RIni)
			fmt.Printf("  r_max:       %g\n", cfg.Penalty.RMax)
			fmt.Printf("  factor_up:   %g\n", cfg.Penalty.FactorUp)
			fmt.Printf("  factor_down: %g\n", cfg.Penalty.FactorDown)
			fmt.Println()

			fmt.Println("Logging:")
			fmt.Printf("  Log file:     %s\n", cfg.Logging.LogFile)
			fmt.Printf("  History file: %s\n", cfg.Logging.HistoryFile)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  Postgres URL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Printf("  Status:       %s\n", boolStatus(cfg.IsDatabaseConfigured()))
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  NLPDRIVE_WORK_DIR, NLPDRIVE_DIR_PREFIX, NLPDRIVE_KEEP_DESIGNS, NLPDRIVE_FAILURE_MODE")
			fmt.Println("  NLPDRIVE_PENALTY_R_INI, NLPDRIVE_PENALTY_R_MAX, NLPDRIVE_PENALTY_FACTOR_UP, NLPDRIVE_PENALTY_FACTOR_DOWN")
			fmt.Println("  NLPDRIVE_LOG_FILE, NLPDRIVE_HISTORY_FILE, NLPDRIVE_POSTGRES_URL")

			return nil
		},
	}
}

// versionCmd shows version information.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nlpdrive %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
