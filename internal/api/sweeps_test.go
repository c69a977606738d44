package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/results"
)

// seedSweep records a finished sweep with one completed and one failed job.
func seedSweep(t *testing.T, srv *Server) *model.Sweep {
	t.Helper()
	ctx := context.Background()

	sw := &model.Sweep{ID: model.NewID(), Status: model.SweepRunning, Total: 2, StartedAt: time.Now().UTC()}
	if err := srv.store.CreateSweep(ctx, sw); err != nil {
		t.Fatalf("CreateSweep: %v", err)
	}

	for i, c := range []model.Combination{
		{Friction: 0.2, Velocity: 129000, Thickness: 5.2},
		{Friction: 0.7, Velocity: 129000, Thickness: 5.2},
	} {
		rec := model.NewJobRecord(sw.ID, model.JobName("Ball-Impact", c), c)
		if err := srv.store.CreateJob(ctx, rec); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if err := srv.store.UpdateJobStatus(ctx, rec.ID, model.StatusSubmitted); err != nil {
			t.Fatalf("UpdateJobStatus: %v", err)
		}
		now := time.Now().UTC()
		dur := 1000 * (i + 1)
		rec.FinishedAt = &now
		rec.DurationMS = &dur
		if i == 0 {
			residual := -31.2345
			rec.Status, rec.Outcome, rec.Residual = model.StatusCompleted, model.OutcomeCompleted, &residual
		} else {
			rec.Status, rec.Outcome, rec.Error = model.StatusFailed, model.OutcomeJobFailed, "ABORTED"
		}
		if err := srv.store.FinishJob(ctx, rec); err != nil {
			t.Fatalf("FinishJob: %v", err)
		}
	}

	now := time.Now().UTC()
	sw.Status, sw.Attempted, sw.Succeeded, sw.Failed, sw.FinishedAt = model.SweepFinished, 2, 1, 1, &now
	if err := srv.store.FinishSweep(ctx, sw); err != nil {
		t.Fatalf("FinishSweep: %v", err)
	}
	return sw
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func TestListSweepsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body listSweepsResponse
	getJSON(t, ts.URL+"/v1/sweeps", http.StatusOK, &body)
	if body.Sweeps == nil || len(body.Sweeps) != 0 {
		t.Errorf("sweeps = %v, want empty list", body.Sweeps)
	}
	if body.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, defaultListLimit)
	}
}

func TestListSweepsLimitClamped(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body listSweepsResponse
	getJSON(t, ts.URL+"/v1/sweeps?limit=5000", http.StatusOK, &body)
	if body.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, defaultListLimit)
	}
}

func TestGetSweep(t *testing.T) {
	srv := newTestServer(t)
	sw := seedSweep(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var got model.Sweep
	getJSON(t, ts.URL+"/v1/sweeps/"+sw.ID, http.StatusOK, &got)
	if got.ID != sw.ID || got.Status != model.SweepFinished || got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("sweep = %+v", got)
	}

	var list listSweepsResponse
	getJSON(t, ts.URL+"/v1/sweeps", http.StatusOK, &list)
	if len(list.Sweeps) != 1 || list.Sweeps[0].ID != sw.ID {
		t.Errorf("sweeps = %+v", list.Sweeps)
	}
}

func TestGetSweepNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/v1/sweeps/nope", "/v1/sweeps/nope/jobs", "/v1/sweeps/nope/stats"} {
		var body map[string]string
		getJSON(t, ts.URL+path, http.StatusNotFound, &body)
		if body["error"] == "" {
			t.Errorf("%s: expected error message", path)
		}
	}
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	sw := seedSweep(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body listJobsResponse
	getJSON(t, ts.URL+"/v1/sweeps/"+sw.ID+"/jobs", http.StatusOK, &body)
	if len(body.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(body.Jobs))
	}
	if body.Jobs[0].Name != "Ball-Impact-129-02-52" || body.Jobs[1].Name != "Ball-Impact-129-07-52" {
		t.Errorf("names = %s, %s", body.Jobs[0].Name, body.Jobs[1].Name)
	}
	if body.Jobs[1].Outcome != model.OutcomeJobFailed || body.Jobs[1].Error != "ABORTED" {
		t.Errorf("failed job = %+v", body.Jobs[1])
	}
}

func TestGetStats(t *testing.T) {
	srv := newTestServer(t)
	sw := seedSweep(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var stats statsResponse
	getJSON(t, ts.URL+"/v1/sweeps/"+sw.ID+"/stats", http.StatusOK, &stats)
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.ByOutcome[model.OutcomeCompleted] != 1 || stats.ByOutcome[model.OutcomeJobFailed] != 1 {
		t.Errorf("by_outcome = %v", stats.ByOutcome)
	}
	if stats.AvgDurationMS != 1500 {
		t.Errorf("avg_duration_ms = %v, want 1500", stats.AvgDurationMS)
	}
}

func TestListResults(t *testing.T) {
	srv := newTestServer(t)
	residual := -31.2345
	if err := srv.table.Append(results.Row{
		JobName: "Ball-Impact-129-02-52", Friction: 0.2, Velocity: 129, Residual: &residual, Thickness: 5.2, Status: "completed",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body listResultsResponse
	getJSON(t, ts.URL+"/v1/results", http.StatusOK, &body)
	if len(body.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(body.Rows))
	}
	r := body.Rows[0]
	if r.JobName != "Ball-Impact-129-02-52" || r.Residual == nil || *r.Residual != residual {
		t.Errorf("row = %+v", r)
	}
}

func TestListResultsMissingFile(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body listResultsResponse
	getJSON(t, ts.URL+"/v1/results", http.StatusOK, &body)
	if body.Rows == nil || len(body.Rows) != 0 {
		t.Errorf("rows = %v, want empty list", body.Rows)
	}
}
