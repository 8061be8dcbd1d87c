// Package cmd contains the CLI commands for the bookkeeping core
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile string
	logger  *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "bookkeeping",
	Short: "Run quality control bookkeeping - QC flags, effective periods and GAQ",
	Long: `bookkeeping keeps the quality-control record of physics runs: it classifies
runs, reconciles overlapping QC flags into effective periods and aggregates
them into global aggregated quality (GAQ) summaries per data pass.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level overriding the config (debug, info, warn, error, fatal, panic)")

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "./config.yaml"
	}
}

// setLogLevel applies the --log-level flag when set, the configured level otherwise
func setLogLevel(cmd *cobra.Command, configured string) {
	logLevel := configured

	if flag, err := cmd.Flags().GetString("log-level"); err == nil && flag != "" {
		logLevel = flag
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
}
