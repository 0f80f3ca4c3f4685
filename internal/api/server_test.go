package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediarelay/internal/api"
	"mediarelay/internal/ingest"
	"mediarelay/internal/queue"
	"mediarelay/internal/retention"
	"mediarelay/internal/testsupport"
)

type sweeperStub struct {
	calls  int
	result retention.Result
}

func (s *sweeperStub) Sweep(context.Context) (retention.Result, error) {
	s.calls++
	return s.result, nil
}

type fixture struct {
	server  *httptest.Server
	store   queue.Store
	sweeper *sweeperStub
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	sweeper := &sweeperStub{result: retention.Result{At: time.Now(), Purged: 4}}
	router := api.NewRouter(api.Options{
		Store:    store,
		Producer: ingest.NewProducer(store, nil, nil),
		Status: func(ctx context.Context) api.DaemonStatus {
			return api.DaemonStatus{Running: true, PID: 1234, StoreDriver: "sqlite"}
		},
		Sweeper:    sweeper,
		DaysToKeep: 30,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Token: token,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &fixture{server: server, store: store, sweeper: sweeper}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestEnqueueEndpoint(t *testing.T) {
	f := newFixture(t, "")

	var created api.EnqueueResponse
	code := f.do(t, http.MethodPost, "/api/jobs", "", api.EnqueueRequest{SourceID: 42, Name: "doc1", CreatedAt: "2024-05-01T08:00:00Z"}, &created)
	if code != http.StatusCreated || created.Result != "created" || created.Job == nil {
		t.Fatalf("first enqueue: code=%d resp=%+v", code, created)
	}
	if created.Job.Status != "queued" || created.Job.CreatedAt != "2024-05-01T08:00:00.000Z" {
		t.Fatalf("unexpected job %+v", created.Job)
	}

	var dup api.EnqueueResponse
	code = f.do(t, http.MethodPost, "/api/jobs", "", api.EnqueueRequest{SourceID: 42, Name: "doc1"}, &dup)
	if code != http.StatusOK || dup.Result != "duplicate" {
		t.Fatalf("duplicate enqueue: code=%d resp=%+v", code, dup)
	}

	var invalid api.ErrorResponse
	code = f.do(t, http.MethodPost, "/api/jobs", "", api.EnqueueRequest{SourceID: 0, Name: "x"}, &invalid)
	if code != http.StatusBadRequest || invalid.Error == "" {
		t.Fatalf("invalid enqueue: code=%d resp=%+v", code, invalid)
	}
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t, "")
	first := testsupport.MustEnqueue(t, f.store, 1, "a", time.Now().Add(-time.Minute))
	testsupport.MustEnqueue(t, f.store, 2, "b", time.Now())
	claimed := testsupport.MustClaim(t, f.store)
	if claimed.ID != first.ID {
		t.Fatalf("expected oldest job claimed")
	}

	var list api.JobListResponse
	if code := f.do(t, http.MethodGet, "/api/jobs", "", nil, &list); code != http.StatusOK || len(list.Jobs) != 2 {
		t.Fatalf("list all: code=%d jobs=%d", code, len(list.Jobs))
	}
	if code := f.do(t, http.MethodGet, "/api/jobs?status=processing", "", nil, &list); code != http.StatusOK || len(list.Jobs) != 1 || list.Jobs[0].ID != first.ID {
		t.Fatalf("list processing: code=%d jobs=%+v", code, list.Jobs)
	}
	if code := f.do(t, http.MethodGet, "/api/jobs?status=bogus", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}

	var one api.JobResponse
	if code := f.do(t, http.MethodGet, "/api/jobs/1", "", nil, &one); code != http.StatusOK || one.Job.SourceID != 1 || one.Job.Attempts != 1 {
		t.Fatalf("get job: code=%d job=%+v", code, one.Job)
	}
	if code := f.do(t, http.MethodGet, "/api/jobs/999", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/jobs/abc", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	var removed api.RemoveResponse
	if code := f.do(t, http.MethodDelete, "/api/jobs/2", "", nil, &removed); code != http.StatusOK || !removed.Removed {
		t.Fatalf("remove: code=%d resp=%+v", code, removed)
	}
	if code := f.do(t, http.MethodDelete, "/api/jobs/2", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 on second remove, got %d", code)
	}

	var stats api.QueueStatsResponse
	if code := f.do(t, http.MethodGet, "/api/stats", "", nil, &stats); code != http.StatusOK || stats.Total != 1 || stats.Counts["processing"] != 1 || stats.Counts["queued"] != 0 {
		t.Fatalf("stats: code=%d resp=%+v", code, stats)
	}
}

func TestStatusSweepAndHealth(t *testing.T) {
	f := newFixture(t, "")

	var status api.DaemonStatus
	if code := f.do(t, http.MethodGet, "/api/status", "", nil, &status); code != http.StatusOK || !status.Running || status.PID != 1234 {
		t.Fatalf("status: code=%d resp=%+v", code, status)
	}

	var sweep api.SweepResponse
	if code := f.do(t, http.MethodPost, "/api/retention/sweep", "", nil, &sweep); code != http.StatusOK || sweep.Retention.Purged != 4 || sweep.Retention.DaysToKeep != 30 {
		t.Fatalf("sweep: code=%d resp=%+v", code, sweep)
	}
	if f.sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", f.sweeper.calls)
	}

	var health map[string]string
	if code := f.do(t, http.MethodGet, "/healthz", "", nil, &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("healthz: code=%d resp=%v", code, health)
	}
	if code := f.do(t, http.MethodGet, "/metrics", "", nil, nil); code != http.StatusOK {
		t.Fatalf("metrics: code=%d", code)
	}
}

func TestBearerTokenRequiredWhenConfigured(t *testing.T) {
	f := newFixture(t, "s3cret")

	if code := f.do(t, http.MethodGet, "/api/jobs", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/jobs", "wrong", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/jobs", "s3cret", nil, nil); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", code)
	}
}
