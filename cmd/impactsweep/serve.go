package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/impactsweep/internal/api"
	"github.com/seantiz/impactsweep/internal/config"
	"github.com/seantiz/impactsweep/internal/results"
	"github.com/seantiz/impactsweep/internal/store"
)

func serveStatusAPI(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ledger, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg.ListenAddr, ledger, results.New(cfg.ResultsPath, logger), logger)
	return srv.Run(ctx)
}
