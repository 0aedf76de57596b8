package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"umoja/internal/platform/config"
	"umoja/internal/platform/logger"
)

const programName = "umoja"

var (
	globalFlags = struct {
		debug      bool
		configFile string
	}{}
	cfg config.Config
)

// commonRun builds the process logger and sizes GOMAXPROCS to the container quota.
func commonRun() *slog.Logger {
	level := cfg.Log.Level
	if globalFlags.debug {
		level = "debug"
	}
	log := logger.New(level, cfg.Log.Format)
	slog.SetDefault(log)
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		log.Info(fmt.Sprintf(format, v...), "component", programName)
	})); err != nil {
		log.Error("failed to set GOMAXPROCS", "error", err)
	}
	return log
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Consensus-gated milestone escrow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(globalFlags.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context(), commonRun())
		},
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to config file")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(policiesCommand())
	rootCmd.AddCommand(tokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
