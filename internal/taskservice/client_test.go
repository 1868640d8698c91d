package taskservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

func testClient(t *testing.T, handler http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ServiceConfig{
		BaseURL: srv.URL,
		Timeout: config.Duration(2 * time.Second),
		Retries: retries,
	})
}

func TestHealthOK(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}), 0)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestSyncPlanSendsBody(t *testing.T) {
	var got Plan
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/plans" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode plan: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}), 0)

	plan := Plan{
		RunID:        "run-1",
		Project:      "demo",
		Waves:        [][]string{{"build"}, {"test"}},
		CriticalPath: []string{"build", "test"},
	}
	if err := c.SyncPlan(context.Background(), plan); err != nil {
		t.Fatalf("SyncPlan: %v", err)
	}
	if got.RunID != "run-1" || len(got.Waves) != 2 {
		t.Fatalf("server saw plan %+v", got)
	}
}

func TestValidateGraphDecodesResult(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Edges []Edge `json:"edges"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode edges: %v", err)
		}
		if len(body.Edges) != 1 || body.Edges[0].From != "a" {
			t.Errorf("server saw edges %+v", body.Edges)
		}
		json.NewEncoder(w).Encode(ValidationResult{Valid: false, Cycle: []string{"a", "b", "a"}})
	}), 0)

	res, err := c.ValidateGraph(context.Background(), []Edge{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("ValidateGraph: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid graph")
	}
	if len(res.Cycle) != 3 || res.Cycle[0] != "a" {
		t.Fatalf("cycle = %v", res.Cycle)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "project_not_found",
			"message": "no such project",
		})
	}), 3)

	_, err := c.FetchAssignments(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if apiErr.Code != "project_not_found" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 3)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health after retries: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}), 5)

	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestFetchAssignments(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("project"); got != "demo" {
			t.Errorf("project = %q", got)
		}
		json.NewEncoder(w).Encode([]Assignment{
			{TaskID: "build", Assignee: "ci", Priority: 1},
		})
	}), 0)

	got, err := c.FetchAssignments(context.Background(), "demo")
	if err != nil {
		t.Fatalf("FetchAssignments: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "build" {
		t.Fatalf("assignments = %+v", got)
	}
}

func TestFetchAssignmentsEscapesProject(t *testing.T) {
	const project = "my project&co"
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("project"); got != project {
			t.Errorf("project = %q, want %q", got, project)
		}
		json.NewEncoder(w).Encode([]Assignment{})
	}), 0)

	if _, err := c.FetchAssignments(context.Background(), project); err != nil {
		t.Fatalf("FetchAssignments: %v", err)
	}
}
