package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/engine"
	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	gaqDataPass               int64
	gaqRun                    int64
	gaqMCReproducibleAsNotBad bool
)

// gaqCmd represents the gaq command group
//
//nolint:gochecknoglobals // Cobra commands are typically global
var gaqCmd = &cobra.Command{
	Use:   "gaq",
	Short: "Inspect global aggregated quality of a data pass",
	Long:  `Commands for listing GAQ periods and coverage summaries straight from the store.`,
}

// gaqSummaryCmd prints the coverage summary of every run of a data pass
//
//nolint:gochecknoglobals // Cobra commands are typically global
var gaqSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the GAQ summary of every run in a data pass",
	RunE:  runGaqSummary,
}

// gaqPeriodsCmd prints the GAQ periods of one run
//
//nolint:gochecknoglobals // Cobra commands are typically global
var gaqPeriodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "Print the GAQ periods of a run in a data pass",
	RunE:  runGaqPeriods,
}

func init() {
	rootCmd.AddCommand(gaqCmd)
	gaqCmd.AddCommand(gaqSummaryCmd)
	gaqCmd.AddCommand(gaqPeriodsCmd)

	gaqCmd.PersistentFlags().Int64Var(&gaqDataPass, "data-pass", 0, "Data pass ID")
	gaqCmd.PersistentFlags().BoolVar(&gaqMCReproducibleAsNotBad, "mc-reproducible-as-not-bad", false, "Count MC reproducible coverage as not bad")
	gaqPeriodsCmd.Flags().Int64Var(&gaqRun, "run", 0, "Run number")

	_ = gaqCmd.MarkPersistentFlagRequired("data-pass")
	_ = gaqPeriodsCmd.MarkFlagRequired("run")
}

func withGaqService(cmd *cobra.Command, fn func(ctx context.Context, svc gaq.Service) error) error {
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

	st, err := engine.OpenStore(cmd.Context(), logger, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close store")
		}
	}()

	return fn(cmd.Context(), gaq.NewService(logger, st))
}

func runGaqSummary(cmd *cobra.Command, _ []string) error {
	return withGaqService(cmd, func(ctx context.Context, svc gaq.Service) error {
		summaries, err := svc.GetSummary(ctx, gaqDataPass, gaq.SummaryOptions{MCReproducibleAsNotBad: gaqMCReproducibleAsNotBad})
		if err != nil {
			return err
		}

		printGaqSummaries(cmd.OutOrStdout(), summaries)

		return nil
	})
}

func runGaqPeriods(cmd *cobra.Command, _ []string) error {
	return withGaqService(cmd, func(ctx context.Context, svc gaq.Service) error {
		periods, err := svc.GetPeriods(ctx, gaqDataPass, gaqRun, gaq.SummaryOptions{MCReproducibleAsNotBad: gaqMCReproducibleAsNotBad})
		if err != nil {
			return err
		}

		printGaqPeriods(cmd.OutOrStdout(), periods)

		return nil
	})
}

func printGaqSummaries(out io.Writer, summaries map[int64]gaq.Summary) {
	runs := make([]int64, 0, len(summaries))
	for run := range summaries {
		runs = append(runs, run)
	}

	slices.Sort(runs)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tBAD\tNOT BAD\tMC REPRODUCIBLE\tMISSING VERIFICATIONS\tUNDEFINED PERIODS")

	for _, run := range runs {
		s := summaries[run]
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
			run,
			formatCoverage(s.BadEffectiveRunCoverage),
			formatCoverage(s.ExplicitlyNotBadEffectiveRunCoverage),
			formatCoverage(s.MCReproducibleCoverage),
			s.MissingVerificationsCount,
			s.UndefinedQualityPeriodsCount)
	}

	_ = w.Flush()
}

func printGaqPeriods(out io.Writer, periods []gaq.Period) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FROM\tTO\tSIGNIFICANCE\tFLAGS")

	for _, p := range periods {
		ids := make([]string, len(p.ContributingFlagIDs))
		for i, id := range p.ContributingFlagIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatInstant(p.From), formatInstant(p.To), p.Significance, strings.Join(ids, ","))
	}

	_ = w.Flush()
}

func formatCoverage(c *float64) string {
	if c == nil {
		return "-"
	}

	return fmt.Sprintf("%.1f%%", *c*100)
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return "open"
	}

	return t.UTC().Format(time.RFC3339)
}
