package sweep

import (
	"fmt"
	"log/slog"

	"github.com/seantiz/impactsweep/internal/model"
)

// Reporter receives progress events. Calls arrive from the sweep goroutine in
// order.
type Reporter interface {
	SweepStarted(sweepID string, total int)
	CombinationStarted(index, total int, name string, c model.Combination)
	// CombinationFinished is called after the row is persisted. err is the
	// *StageError of a failed combination, or nil.
	CombinationFinished(index, total int, rec *model.JobRecord, err error)
	SweepFinished(sum Summary, err error)
}

type logReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a Reporter writing structured log records.
func NewLogReporter(logger *slog.Logger) Reporter {
	return &logReporter{logger: logger}
}

func (r *logReporter) SweepStarted(sweepID string, total int) {
	r.logger.Info("sweep started", "sweep_id", sweepID, "combinations", total)
}

func (r *logReporter) CombinationStarted(index, total int, name string, c model.Combination) {
	r.logger.Info("combination started",
		"job", name,
		"progress", progress(index, total),
		"friction", c.Friction,
		"velocity", c.Velocity,
		"thickness", c.Thickness,
	)
}

func (r *logReporter) CombinationFinished(index, total int, rec *model.JobRecord, err error) {
	attrs := []any{"job", rec.Name, "progress", progress(index, total), "outcome", rec.Outcome}
	if rec.DurationMS != nil {
		attrs = append(attrs, "duration_ms", *rec.DurationMS)
	}
	if err != nil {
		r.logger.Warn("combination failed", append(attrs, "error", err)...)
		return
	}
	r.logger.Info("combination completed", append(attrs, "residual_velocity", *rec.Residual)...)
}

func (r *logReporter) SweepFinished(sum Summary, err error) {
	attrs := []any{
		"sweep_id", sum.SweepID,
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
	}
	if err != nil {
		r.logger.Error("sweep aborted", append(attrs, "error", err)...)
		return
	}
	r.logger.Info("sweep finished", attrs...)
}

func progress(index, total int) string {
	return fmt.Sprintf("%d/%d", index+1, total)
}

// Tee returns a Reporter forwarding every event to each of rs in order.
func Tee(rs ...Reporter) Reporter {
	return tee(rs)
}

type tee []Reporter

func (t tee) SweepStarted(sweepID string, total int) {
	for _, r := range t {
		r.SweepStarted(sweepID, total)
	}
}

func (t tee) CombinationStarted(index, total int, name string, c model.Combination) {
	for _, r := range t {
		r.CombinationStarted(index, total, name, c)
	}
}

func (t tee) CombinationFinished(index, total int, rec *model.JobRecord, err error) {
	for _, r := range t {
		r.CombinationFinished(index, total, rec, err)
	}
}

func (t tee) SweepFinished(sum Summary, err error) {
	for _, r := range t {
		r.SweepFinished(sum, err)
	}
}
