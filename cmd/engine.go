package cmd

import (
	"os/signal"
	"syscall"

	"github.com/ethpandaops/bookkeeping/pkg/engine"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Start the bookkeeping engine",
	Long: `The engine serves the HTTP API and, when Redis is configured, processes
queued reconstructions and schedules periodic full reconstructions.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(engineCmd)
}

func runEngine(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := engine.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	setLogLevel(cmd, config.Logging)

	logger.WithFields(versionFields()).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := engine.NewService(ctx, logger, config)
	if err != nil {
		return err
	}

	return svc.Run(ctx)
}
