// Command impactsweep-simkernel is a simulated engine kernel for dry runs. It
// speaks the bridge protocol on stdin/stdout and answers from an in-memory
// engine, so a sweep can be exercised end to end without an FE installation:
//
//	IMPACT_ENGINE_CMD=impactsweep-simkernel impactsweep run
//
// Behaviour is tuned through the environment:
//
//	SIMKERNEL_JOB_SECONDS  how long each job runs (default 0)
//	SIMKERNEL_FAIL_JOBS    comma-separated job names that abort
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/impactsweep/internal/backend"
	"github.com/seantiz/impactsweep/internal/backend/backendtest"
	"github.com/seantiz/impactsweep/internal/backend/bridge"
)

func main() {
	// stdout carries frames; everything human-readable goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	eng, err := newSimEngine()
	if err != nil {
		logger.Error("invalid simulator settings", "error", err)
		os.Exit(2)
	}

	logger.Info("simkernel: serving on stdio", "pid", os.Getpid())
	stdio := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	if err := bridge.NewServer(eng, logger).Serve(context.Background(), stdio); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

func newSimEngine() (*backendtest.Engine, error) {
	eng := backendtest.New()

	if v := os.Getenv("SIMKERNEL_JOB_SECONDS"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("SIMKERNEL_JOB_SECONDS %q: want a non-negative number", v)
		}
		eng.WaitDelay = time.Duration(secs * float64(time.Second))
	}

	failing := make(map[string]bool)
	for _, name := range strings.Split(os.Getenv("SIMKERNEL_FAIL_JOBS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			failing[name] = true
		}
	}
	eng.Outcome = func(job string) (backend.JobOutcome, error) {
		if failing[job] {
			return backend.JobOutcome{State: backend.JobAborted, Message: "simulated abort"}, nil
		}
		return backend.JobOutcome{State: backend.JobCompleted}, nil
	}

	eng.Output = func(path string) (backend.Output, error) {
		job := backendtest.JobNameFromPath(path)
		for _, sub := range eng.Submissions() {
			if sub.Spec.Name == job {
				return backendtest.VelocityOutput(backendtest.DefaultNodeSet, residual(sub.State)), nil
			}
		}
		return nil, fmt.Errorf("output %s: %w", path, backend.ErrNotFound)
	}
	return eng, nil
}

// residual is a toy rebound model: the ball keeps a quarter of its speed,
// less on thicker plates and with more friction.
func residual(m backendtest.ModelState) float64 {
	speed := math.Sqrt(m.Velocity.V1*m.Velocity.V1 + m.Velocity.V2*m.Velocity.V2 + m.Velocity.V3*m.Velocity.V3)
	keep := 0.25 * (1 - 0.1*m.Tangential.Friction)
	if m.Depth > 0 {
		keep *= 5 / m.Depth
	}
	return -speed * keep
}
