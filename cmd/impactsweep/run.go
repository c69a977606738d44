package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/impactsweep/internal/api"
	"github.com/seantiz/impactsweep/internal/backend/bridge"
	"github.com/seantiz/impactsweep/internal/config"
	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/results"
	"github.com/seantiz/impactsweep/internal/runlock"
	"github.com/seantiz/impactsweep/internal/store"
	"github.com/seantiz/impactsweep/internal/sweep"
)

// loadPlan reads the plan named by --plan or the environment. Only the
// implicit default path may be absent, in which case the built-in plan is used.
func loadPlan(cmd *cobra.Command, cfg config.Config) (*config.Plan, string, error) {
	path := cfg.PlanPath
	explicit := cmd.Flags().Changed("plan")
	if explicit {
		path = planFile
	}

	p, err := config.LoadPlan(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit && os.Getenv("IMPACT_PLAN_PATH") == "" {
		p = config.DefaultPlan()
		return p, "", p.Validate()
	}
	if err != nil {
		return nil, "", err
	}
	return p, path, nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	plan, planPath, err := loadPlan(cmd, cfg)
	if err != nil {
		return err
	}
	if err := cfg.CheckEngine(); err != nil {
		return err
	}

	baseDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve invocation directory: %w", err)
	}
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	sweepID := model.NewID()
	lock, err := runlock.Acquire(workDir, sweepID)
	if err != nil {
		return err
	}
	defer lock.Release()
	if prev, ok := lock.Reclaimed(); ok {
		logger.Warn("reclaimed stale run lock",
			"work_dir", workDir, "pid", prev.PID, "sweep_id", prev.SweepID, "created_at", prev.CreatedAt)
	}

	logger.Info("impactsweep: starting",
		"sweep_id", sweepID,
		"plan", planPath,
		"work_dir", workDir,
		"results", cfg.ResultsPath,
		"db_path", cfg.DBPath,
	)

	ledger, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table := results.New(cfg.ResultsPath, logger)
	reporter := sweep.NewLogReporter(logger)
	if serveStatus {
		srv := api.NewServer(cfg.ListenAddr, ledger, table, logger)
		reporter = sweep.Tee(reporter, srv.Events())
		stopServer := startStatusServer(srv, logger)
		defer stopServer()
	}

	kernel, err := bridge.Start(ctx, bridge.Config{
		Command: cfg.EngineCommand,
		WorkDir: workDir,
	}, logger)
	if err != nil {
		return err
	}
	defer kernel.Close()

	s := sweep.New(kernel, plan, table, ledger, sweep.Options{
		SweepID:     sweepID,
		WorkDir:     workDir,
		BaseDir:     baseDir,
		PlanPath:    planPath,
		MetricsPath: cfg.MetricsPath,
		Reporter:    reporter,
	}, logger)

	sum, err := s.Run(ctx)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		logger.Warn("some combinations failed; see the Status and Error columns", "failed", sum.Failed, "results", cfg.ResultsPath)
	}
	return nil
}

// startStatusServer runs srv in the background for the duration of a sweep. The
// returned function stops it and waits for the shutdown to finish. A server
// that fails to start is logged; the sweep carries on without it.
func startStatusServer(srv *api.Server, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			logger.Error("status server failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
