package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	planFile    string
	serveStatus bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "impactsweep",
		Short:        "parametric ball-on-plate impact sweep",
		SilenceUsage: true,
		RunE:         runSweep,
	}
	rootCmd.PersistentFlags().StringVar(&planFile, "plan", "", "sweep plan YAML (default $IMPACT_PLAN_PATH or sweep.yaml)")
	rootCmd.Flags().BoolVar(&serveStatus, "status", false, "serve the status API on $IMPACT_LISTEN_ADDR while the sweep runs")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the sweep against the engine",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	runCmd.Flags().BoolVar(&serveStatus, "status", false, "serve the status API on $IMPACT_LISTEN_ADDR while the sweep runs")

	rootCmd.AddCommand(
		runCmd,
		&cobra.Command{
			Use:   "grid",
			Short: "print the combinations and job names without touching the engine",
			Args:  cobra.NoArgs,
			RunE:  printGrid,
		},
		&cobra.Command{
			Use:   "plan",
			Short: "print the effective sweep plan",
			Args:  cobra.NoArgs,
			RunE:  printPlan,
		},
		&cobra.Command{
			Use:   "jobs [sweep-id]",
			Short: "list recorded sweeps, or the job records of one sweep",
			Args:  cobra.MaximumNArgs(1),
			RunE:  listJobs,
		},
		&cobra.Command{
			Use:   "results",
			Short: "print the results table",
			Args:  cobra.NoArgs,
			RunE:  printResults,
		},
		&cobra.Command{
			Use:   "serve",
			Short: "serve the ledger and results over HTTP until interrupted",
			Args:  cobra.NoArgs,
			RunE:  serveStatusAPI,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
