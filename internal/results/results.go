// Package results maintains the append-only results table of a sweep: one CSV
// row per processed combination, persisted across process restarts.
package results

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/seantiz/impactsweep/internal/model"
)

// Header is the first line of every results table. The first five columns keep
// the layout of earlier tables; Status and Error explain failed rows.
var Header = []string{"Job Name", "Friction", "Velocity", "Residual Velocity", "Thickness", "Status", "Error"}

// tailChunk is how far back Append reads at a time when looking for the end of
// the last complete row.
const tailChunk = 4096

// ErrMalformedRow is returned by Rows for a row that cannot be parsed.
var ErrMalformedRow = errors.New("malformed results row")

// Row is one line of the results table. Residual is nil for failed combinations.
type Row struct {
	JobName   string   `json:"job_name"`
	Friction  float64  `json:"friction"`
	Velocity  float64  `json:"velocity"`
	Residual  *float64 `json:"residual_velocity,omitempty"`
	Thickness float64  `json:"thickness"`
	Status    string   `json:"status,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Table is a results table file.
type Table struct {
	path   string
	logger *slog.Logger
}

// New returns the table stored at path. The file is created on first Append.
func New(path string, logger *slog.Logger) *Table {
	return &Table{path: path, logger: logger}
}

// Path returns the table's file path.
func (t *Table) Path() string {
	return t.path
}

// Append writes r as one row, preceded by the header when the file is empty.
//
// Every call opens the file in append mode, writes the encoded bytes with a
// single write and syncs before returning, so nothing is buffered between
// calls. A trailing partial row left by a crash is truncated away first.
func (t *Table) Append(r Row) error {
	f, err := os.OpenFile(t.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open results %s: %w", t.path, err)
	}
	defer f.Close()

	size, err := t.repairTail(f)
	if err != nil {
		return fmt.Errorf("repair results %s: %w", t.path, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if size == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	}
	if err := w.Write(r.record()); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write results %s: %w", t.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync results %s: %w", t.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close results %s: %w", t.path, err)
	}
	return nil
}

// repairTail truncates f after its last newline when the final row is
// incomplete and returns the resulting size.
func (t *Table) repairTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, err
	}
	if last[0] == '\n' {
		return size, nil
	}

	keep, err := lastLineEnd(f, size)
	if err != nil {
		return 0, err
	}
	if err := f.Truncate(keep); err != nil {
		return 0, err
	}
	t.logger.Warn("discarded partial results row", "path", t.path, "bytes", size-keep)
	return keep, nil
}

// lastLineEnd returns the offset just past the last newline in the first size
// bytes of r, or 0 if there is none.
func lastLineEnd(r io.ReaderAt, size int64) (int64, error) {
	buf := make([]byte, tailChunk)
	end := size
	for end > 0 {
		start := max(end-tailChunk, 0)
		chunk := buf[:end-start]
		if _, err := r.ReadAt(chunk, start); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func (r Row) record() []string {
	residual := ""
	if r.Residual != nil {
		residual = model.FormatFloat(*r.Residual)
	}
	return []string{
		r.JobName,
		model.FormatFloat(r.Friction),
		model.FormatFloat(r.Velocity),
		residual,
		model.FormatFloat(r.Thickness),
		r.Status,
		singleLine(r.Error),
	}
}

// singleLine keeps each row on one physical line so tail repair stays exact.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Rows reads every data row of the table. A missing file holds no rows. Tables
// written before the Status and Error columns existed are accepted.
func (t *Table) Rows() ([]Row, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open results %s: %w", t.path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read results %s: %w", t.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(rec []string) (Row, error) {
	if len(rec) < 5 {
		return Row{}, fmt.Errorf("%w: %d columns", ErrMalformedRow, len(rec))
	}
	var (
		row Row
		err error
	)
	row.JobName = rec[0]
	if row.Friction, err = parseFloat(rec[1]); err != nil {
		return Row{}, err
	}
	if row.Velocity, err = parseFloat(rec[2]); err != nil {
		return Row{}, err
	}
	if rec[3] != "" {
		v, err := parseFloat(rec[3])
		if err != nil {
			return Row{}, err
		}
		row.Residual = &v
	}
	if row.Thickness, err = parseFloat(rec[4]); err != nil {
		return Row{}, err
	}
	if len(rec) > 5 {
		row.Status = rec[5]
	}
	if len(rec) > 6 {
		row.Error = rec[6]
	}
	return row, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedRow, s)
	}
	return v, nil
}
