package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/impactsweep/internal/config"
	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/results"
	"github.com/seantiz/impactsweep/internal/store"
)

const listSweepsLimit = 20

func printGrid(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	plan, _, err := loadPlan(cmd, cfg)
	if err != nil {
		return err
	}
	combos, err := plan.Combinations()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tJOB\tTHICKNESS\tVELOCITY\tFRICTION")
	for i, c := range combos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, model.JobName(plan.Job.Prefix, c),
			model.FormatFloat(c.Thickness), model.FormatFloat(c.Velocity), model.FormatFloat(c.Friction))
	}
	return w.Flush()
}

func printPlan(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	plan, _, err := loadPlan(cmd, cfg)
	if err != nil {
		return err
	}
	data, err := plan.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func listJobs(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ledger, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	ctx := cmd.Context()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if len(args) == 0 {
		sweeps, err := ledger.ListSweeps(ctx, listSweepsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SWEEP\tSTATUS\tSTARTED\tTOTAL\tATTEMPTED\tSUCCEEDED\tFAILED")
		for _, s := range sweeps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", s.ID, s.Status,
				s.StartedAt.Local().Format(time.DateTime), s.Total, s.Attempted, s.Succeeded, s.Failed)
		}
		return w.Flush()
	}

	sweepID := args[0]
	if _, err := ledger.GetSweep(ctx, sweepID); err != nil {
		return fmt.Errorf("sweep %s: %w", sweepID, err)
	}
	recs, err := ledger.ListJobs(ctx, sweepID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "JOB\tSTATUS\tOUTCOME\tRESIDUAL\tDURATION\tERROR")
	for _, r := range recs {
		residual, dur := "-", "-"
		if r.Residual != nil {
			residual = model.FormatFloat(*r.Residual)
		}
		if r.DurationMS != nil {
			dur = (time.Duration(*r.DurationMS) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Name, r.Status, r.Outcome, residual, dur, r.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats, err := ledger.GetSweepStats(ctx, sweepID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d records, mean duration %s\n", stats.Total,
		(time.Duration(stats.AvgDurationMS) * time.Millisecond).String())
	return nil
}

func printResults(_ *cobra.Command, _ []string) error {
	cfg := config.Load()
	rows, err := results.New(cfg.ResultsPath, config.NewLogger(os.Stderr, cfg.LogLevel)).Rows()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tFRICTION\tVELOCITY\tRESIDUAL\tTHICKNESS\tSTATUS")
	for _, r := range rows {
		residual := "-"
		if r.Residual != nil {
			residual = model.FormatFloat(*r.Residual)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.JobName, model.FormatFloat(r.Friction),
			model.FormatFloat(r.Velocity), residual, model.FormatFloat(r.Thickness), r.Status)
	}
	return w.Flush()
}
