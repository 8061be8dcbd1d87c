package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/rundefinition"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	classifyFile string
	classifyAt   string
)

// classifyCmd represents the classify command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a run from its attributes",
	Long: `Classify reads a YAML snapshot of run attributes and prints the run
definition: PHYSICS, COSMICS, TECHNICAL, SYNTHETIC, CALIBRATION or COMMISSIONING.

Example run.yaml:
  dcs: true
  ddFlp: true
  epn: true
  triggerValue: CTP
  tfbDdMode: processing
  pdpBeamType: pp
  lhcBeamMode: STABLE BEAMS
  runType:
    name: PHYSICS
  lhcFill:
    stableBeamsStart: 2024-05-01T00:00:00Z
    stableBeamsEnd: 2024-05-01T12:00:00Z
  timeO2Start: 2024-05-01T01:00:00Z
  timeO2End: 2024-05-01T02:00:00Z`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringVar(&classifyFile, "file", "", "YAML file with the run attributes")
	classifyCmd.Flags().StringVar(&classifyAt, "at", "", "RFC3339 instant standing in for now on runs still running (default is now)")

	_ = classifyCmd.MarkFlagRequired("file")
}

func runClassify(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	data, err := os.ReadFile(classifyFile) //nolint:gosec // User-provided attributes file path
	if err != nil {
		return err
	}

	var run rundefinition.RunAttributes
	if err := yaml.Unmarshal(data, &run); err != nil {
		return fmt.Errorf("failed to parse %s: %w", classifyFile, err)
	}

	now := time.Now()

	if classifyAt != "" {
		now, err = time.Parse(time.RFC3339, classifyAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	fmt.Println(rundefinition.Classify(run, now))

	return nil
}
