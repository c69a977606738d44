package e2e

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

type binaries struct {
	sweep  string
	kernel string
}

var (
	built     binaries
	buildOnce sync.Once
	buildErr  error
)

func getBinaries(t *testing.T) binaries {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "impactsweep-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		root := findRepoRoot(t)
		for bin, pkg := range map[*string]string{
			&built.sweep:  "./cmd/impactsweep",
			&built.kernel: "./cmd/impactsweep-simkernel",
		} {
			out := filepath.Join(dir, filepath.Base(pkg))
			cmd := exec.Command("go", "build", "-o", out, pkg)
			cmd.Dir = root
			if output, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("go build %s failed: %w\n%s", pkg, err, output)
				return
			}
			*bin = out
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return built
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// sweepCmd prepares an impactsweep invocation in dir driving the simulated
// kernel.
func sweepCmd(bins binaries, dir string, env []string, args ...string) *exec.Cmd {
	cmd := exec.Command(bins.sweep, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"IMPACT_ENGINE_CMD="+bins.kernel,
		"IMPACT_PLAN_PATH=",
		"IMPACT_WORK_DIR=",
		"IMPACT_RESULTS_PATH=",
		"IMPACT_DB_PATH=",
		"IMPACT_LOG_LEVEL=debug",
	)
	cmd.Env = append(cmd.Env, env...)
	return cmd
}

func readResults(t *testing.T, dir string) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "job_data.csv"))
	if err != nil {
		t.Fatalf("open results: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse results: %v", err)
	}
	return records
}

func TestSweepAgainstSimulatedKernel(t *testing.T) {
	bins := getBinaries(t)
	dir := t.TempDir()

	out, err := sweepCmd(bins, dir, nil, "run").CombinedOutput()
	if err != nil {
		t.Fatalf("impactsweep run: %v\n%s", err, out)
	}

	records := readResults(t, dir)
	if len(records) != 10 {
		t.Fatalf("records = %d, want header + 9 rows\n%v", len(records), records)
	}
	wantHeader := "Job Name,Friction,Velocity,Residual Velocity,Thickness,Status,Error"
	if got := strings.Join(records[0], ","); got != wantHeader {
		t.Errorf("header = %q, want %q", got, wantHeader)
	}

	wantJobs := []string{
		"Ball-Impact-129-02-52", "Ball-Impact-129-07-52", "Ball-Impact-129-12-52",
		"Ball-Impact-129-02-57", "Ball-Impact-129-07-57", "Ball-Impact-129-12-57",
		"Ball-Impact-129-02-62", "Ball-Impact-129-07-62", "Ball-Impact-129-12-62",
	}
	for i, rec := range records[1:] {
		if rec[0] != wantJobs[i] {
			t.Errorf("row %d job = %q, want %q", i, rec[0], wantJobs[i])
		}
		if rec[2] != "129" {
			t.Errorf("row %d velocity = %q, want 129", i, rec[2])
		}
		if rec[3] == "" || !strings.HasPrefix(rec[3], "-") {
			t.Errorf("row %d residual = %q, want a negative value", i, rec[3])
		}
		if rec[5] != "completed" {
			t.Errorf("row %d status = %q", i, rec[5])
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "WD")); err != nil {
		t.Errorf("working directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "WD", ".sweep.lock")); !os.IsNotExist(err) {
		t.Errorf("run lock left behind: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "impactsweep.db")); err != nil {
		t.Errorf("ledger: %v", err)
	}
}

func TestSweepFailedJobIsRecorded(t *testing.T) {
	bins := getBinaries(t)
	dir := t.TempDir()

	cmd := sweepCmd(bins, dir, []string{"SIMKERNEL_FAIL_JOBS=Ball-Impact-129-07-52"}, "run")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("impactsweep run: %v\n%s", err, out)
	}

	records := readResults(t, dir)
	if len(records) != 10 {
		t.Fatalf("records = %d, want 10", len(records))
	}
	failed := records[2]
	if failed[0] != "Ball-Impact-129-07-52" || failed[3] != "" || failed[5] != "job_failed" {
		t.Errorf("failed row = %q", failed)
	}
	if !strings.Contains(failed[6], "simulated abort") {
		t.Errorf("error column = %q", failed[6])
	}
	if records[3][5] != "completed" {
		t.Errorf("sweep did not continue past the failure: %q", records[3])
	}
}

func TestRunRequiresEngineCommand(t *testing.T) {
	bins := getBinaries(t)
	dir := t.TempDir()

	out, err := sweepCmd(bins, dir, []string{"IMPACT_ENGINE_CMD="}, "run").CombinedOutput()
	if err == nil {
		t.Fatalf("expected failure without an engine command:\n%s", out)
	}
	if !strings.Contains(string(out), "IMPACT_ENGINE_CMD") {
		t.Errorf("error does not name the variable:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "WD")); !os.IsNotExist(err) {
		t.Errorf("working directory created without an engine: %v", err)
	}
}

func TestSecondSweepAppends(t *testing.T) {
	bins := getBinaries(t)
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		if out, err := sweepCmd(bins, dir, nil, "run").CombinedOutput(); err != nil {
			t.Fatalf("run %d: %v\n%s", i, err, out)
		}
	}

	records := readResults(t, dir)
	if len(records) != 19 {
		t.Errorf("records = %d, want one header and 18 rows", len(records))
	}

	out, err := sweepCmd(bins, dir, nil, "jobs").CombinedOutput()
	if err != nil {
		t.Fatalf("impactsweep jobs: %v\n%s", err, out)
	}
	if got := strings.Count(string(out), "finished"); got != 2 {
		t.Errorf("finished sweeps listed = %d, want 2\n%s", got, out)
	}
}

func TestGridCommand(t *testing.T) {
	bins := getBinaries(t)

	out, err := sweepCmd(bins, t.TempDir(), nil, "grid").CombinedOutput()
	if err != nil {
		t.Fatalf("impactsweep grid: %v\n%s", err, out)
	}
	for _, name := range []string{"Ball-Impact-129-02-52", "Ball-Impact-129-07-57", "Ball-Impact-129-12-62"} {
		if !strings.Contains(string(out), name) {
			t.Errorf("grid output missing %s:\n%s", name, out)
		}
	}
}

func TestInvalidPlanFailsBeforeKernel(t *testing.T) {
	bins := getBinaries(t)
	dir := t.TempDir()
	plan := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(plan, []byte("grid:\n  friction: {lower: 0.9, upper: 0.2, increment: 0.5}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd := sweepCmd(bins, dir, []string{"IMPACT_ENGINE_CMD=/nonexistent/kernel"}, "run", "--plan", plan)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected failure, got success:\n%s", out)
	}
	if strings.Contains(string(out), "start kernel") {
		t.Errorf("kernel launched despite invalid plan:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "job_data.csv")); !os.IsNotExist(err) {
		t.Errorf("results written for an invalid plan: %v", err)
	}
}

func TestServeCommand(t *testing.T) {
	bins := getBinaries(t)
	dir := t.TempDir()
	if out, err := sweepCmd(bins, dir, nil, "run").CombinedOutput(); err != nil {
		t.Fatalf("impactsweep run: %v\n%s", err, out)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := sweepCmd(bins, dir, []string{"IMPACT_LISTEN_ADDR=" + addr}, "serve")
	cmd.Stdout = stdout
	cmd.Stderr = stdout
	if err := cmd.Start(); err != nil {
		t.Fatalf("start serve: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	url := "http://" + addr
	deadline := time.Now().Add(startupTimeout)
	for {
		resp, err := http.Get(url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
		}
		time.Sleep(pollInterval)
	}

	resp, err := http.Get(url + "/v1/results")
	if err != nil {
		t.Fatalf("GET /v1/results: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Rows []struct {
			JobName string `json:"job_name"`
			Status  string `json:"status"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 9 || body.Rows[0].JobName != "Ball-Impact-129-02-52" {
		t.Errorf("rows = %+v", body.Rows)
	}
}
