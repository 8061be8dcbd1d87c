package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/bookkeeping/pkg/engine"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/redis"
	"github.com/ethpandaops/bookkeeping/pkg/tasks"
	r "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	// ErrScopeRequired is returned when neither a scope nor --all is given
	ErrScopeRequired = errors.New("--run and --detector are required unless --all is set")
	// ErrQueueNeedsRedis is returned for --queue without a Redis configuration
	ErrQueueNeedsRedis = errors.New("--queue needs a redis configuration")
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	reconstructRun            int64
	reconstructDetector       int64
	reconstructDataPass       int64
	reconstructSimulationPass int64
	reconstructAll            bool
	reconstructQueue          bool
)

// reconstructCmd represents the reconstruct command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Rebuild effective periods from the flag history",
	Long: `Reconstruct drops the effective periods of a scope and replays its
non-deleted flags in creation order. This repairs periods after manual
database changes or a failed reconciliation.

Examples:
  # Rebuild the synchronous flags of detector 4 in run 550000
  bookkeeping reconstruct --run 550000 --detector 4

  # Rebuild a data pass scope
  bookkeeping reconstruct --run 550000 --detector 4 --data-pass 12

  # Rebuild every scope through the running engine's workers
  bookkeeping reconstruct --all --queue`,
	RunE: runReconstruct,
}

func init() {
	rootCmd.AddCommand(reconstructCmd)

	reconstructCmd.Flags().Int64Var(&reconstructRun, "run", 0, "Run number of the scope")
	reconstructCmd.Flags().Int64Var(&reconstructDetector, "detector", 0, "Detector ID of the scope")
	reconstructCmd.Flags().Int64Var(&reconstructDataPass, "data-pass", 0, "Data pass ID of the scope")
	reconstructCmd.Flags().Int64Var(&reconstructSimulationPass, "simulation-pass", 0, "Simulation pass ID of the scope")
	reconstructCmd.Flags().BoolVar(&reconstructAll, "all", false, "Rebuild every scope that has flags")
	reconstructCmd.Flags().BoolVar(&reconstructQueue, "queue", false, "Queue the reconstruction for the engine workers instead of running it here")

	reconstructCmd.MarkFlagsMutuallyExclusive("data-pass", "simulation-pass")
	reconstructCmd.MarkFlagsMutuallyExclusive("all", "run")
}

func runReconstruct(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := LoadCLIConfig(cfgFile)
	if err != nil {
		return err
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return validationErr
	}

	setLogLevel(cmd, cfg.Logging)

	var key qcflag.ScopeKey

	if !reconstructAll {
		key, err = reconstructScopeKey(cmd)
		if err != nil {
			return err
		}
	}

	if reconstructQueue {
		return queueReconstruction(cfg, key)
	}

	return reconstructInline(cmd.Context(), cfg, key)
}

func reconstructScopeKey(cmd *cobra.Command) (qcflag.ScopeKey, error) {
	if !cmd.Flags().Changed("run") || !cmd.Flags().Changed("detector") {
		return qcflag.ScopeKey{}, ErrScopeRequired
	}

	var dataPassID, simulationPassID *int64

	if cmd.Flags().Changed("data-pass") {
		dataPassID = &reconstructDataPass
	}

	if cmd.Flags().Changed("simulation-pass") {
		simulationPassID = &reconstructSimulationPass
	}

	scope, err := qcflag.NewScope(dataPassID, simulationPassID)
	if err != nil {
		return qcflag.ScopeKey{}, err
	}

	return qcflag.ScopeKey{RunNumber: reconstructRun, DetectorID: reconstructDetector, Scope: scope}, nil
}

func reconstructInline(ctx context.Context, cfg *CLIConfig, key qcflag.ScopeKey) error {
	st, err := engine.OpenStore(ctx, logger, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close store")
		}
	}()

	var opts []reconciler.Option

	if cfg.Redis != nil {
		opt, optErr := cfg.Redis.Options()
		if optErr != nil {
			return optErr
		}

		client := r.NewClient(opt)
		defer func() { _ = client.Close() }()

		opts = append(opts, reconciler.WithLocker(redis.NewScopeLocker(logger, client, cfg.Redis, cfg.Lock)))
	}

	svc := reconciler.NewService(logger, st, opts...)

	var result *reconciler.ReconstructResult

	if reconstructAll {
		result, err = svc.ReconstructAll(ctx)
	} else {
		result, err = svc.Reconstruct(ctx, key)
	}

	if err != nil {
		return err
	}

	fmt.Printf("Reconstructed %d scope(s): %d flag(s), %d effective period(s)\n", result.Scopes, result.Flags, result.Periods)

	return nil
}

func queueReconstruction(cfg *CLIConfig, key qcflag.ScopeKey) error {
	if cfg.Redis == nil {
		return ErrQueueNeedsRedis
	}

	opt, err := cfg.Redis.Options()
	if err != nil {
		return err
	}

	queue := tasks.NewQueueManager(redis.AsynqOptions(opt), cfg.Redis.PrefixQueue(tasks.QueueReconstruction))
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close task queue")
		}
	}()

	var taskID string

	if reconstructAll {
		taskID, err = queue.EnqueueReconstructAll(tasks.TriggerCLI)
	} else {
		taskID, err = queue.EnqueueReconstructScope(key, tasks.TriggerCLI)
	}

	switch {
	case errors.Is(err, tasks.ErrAlreadyQueued):
		fmt.Printf("Reconstruction %s is already queued\n", taskID)
		return nil
	case err != nil:
		return err
	}

	fmt.Printf("Queued reconstruction %s\n", taskID)

	return nil
}
