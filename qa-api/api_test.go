package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/platform/httpserver"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/repo/memory"
)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	mem *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, func(store repo.Store) repo.Store { return store })
}

// newTestServerWith lets a test swap repositories of the memory store.
func newTestServerWith(t *testing.T, wrap func(repo.Store) repo.Store) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memory.New()
	api := newQAAPI(logger, wrap(mem.Repositories()), nil, 24*time.Hour)
	mux := http.NewServeMux()
	api.register(mux)
	srv := httptest.NewServer(httpserver.Wrap(logger, serviceName, mux))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, mem: mem}
}

func (s *testServer) do(method, path string, body any) (int, map[string]any) {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		s.t.Fatalf("request: %v", err)
	}
	req.Header.Set(httpserver.HeaderActor, "tess")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			s.t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp.StatusCode, out
}

func (s *testServer) mustDo(method, path string, body any, want int) map[string]any {
	s.t.Helper()
	status, out := s.do(method, path, body)
	if status != want {
		s.t.Fatalf("%s %s: expected %d, got %d: %v", method, path, want, status, out)
	}
	return out
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	proj := s.mustDo(http.MethodPost, "/projects", map[string]any{"name": "Shop", "code": "shop"}, http.StatusCreated)
	pid := str(proj, "project_id")
	if str(proj, "code") != "SHOP" || str(proj, "created_by") != "tess" {
		t.Fatalf("unexpected project: %v", proj)
	}
	base := "/projects/" + pid

	suite := s.mustDo(http.MethodPost, base+"/suites", map[string]any{"name": "Checkout"}, http.StatusCreated)
	sid := str(suite, "suite_id")

	imported := s.mustDo(http.MethodPost, base+"/cases/import?parent_suite_id="+sid, `
suites:
  - name: Payments
    cases:
      - {title: pay by card, status: Active, priority: High, steps: [add item, pay], expected_result: paid}
      - {title: pay by voucher, status: Active}
      - {title: pay later, status: Active}
      - {title: crypto, status: Draft}
`, http.StatusCreated)
	suites, _ := imported["suites"].([]any)
	if len(suites) != 1 {
		t.Fatalf("unexpected import: %v", imported)
	}
	payments := suites[0].(map[string]any)["suite_id"].(string)

	view := s.mustDo(http.MethodPost, base+"/runs", map[string]any{"suite_id": payments, "title": "release"}, http.StatusCreated)
	runID := str(view, "run_id")
	if view["total"].(float64) != 3 || str(view, "state") != "Running" {
		t.Fatalf("unexpected start view: %v", view)
	}
	runPath := base + "/runs/" + runID

	s.mustDo(http.MethodPost, runPath+"/outcome", map[string]any{"outcome": "Pass"}, http.StatusOK)
	view = s.mustDo(http.MethodPost, runPath+"/outcome", map[string]any{"outcome": "Issue", "actual_result": "declined"}, http.StatusOK)
	draft, _ := view["defect_draft"].(map[string]any)
	if str(view, "state") != "AwaitingDefectDetails" || str(draft, "title") != "Test failed: pay by voucher" {
		t.Fatalf("expected defect draft: %v", view)
	}
	s.mustDo(http.MethodPost, runPath+"/outcome", map[string]any{"outcome": "Pass"}, http.StatusConflict)
	s.mustDo(http.MethodPost, runPath+"/defect", map[string]any{"title": "", "description": "x"}, http.StatusBadRequest)
	s.mustDo(http.MethodPost, runPath+"/defect", map[string]any{"title": str(draft, "title"), "description": str(draft, "description")}, http.StatusOK)
	view = s.mustDo(http.MethodPost, runPath+"/outcome", map[string]any{"outcome": "Blocked"}, http.StatusOK)
	if str(view, "state") != "Completed" {
		t.Fatalf("expected completion: %v", view)
	}
	s.mustDo(http.MethodPost, runPath+"/outcome", map[string]any{"outcome": "Pass"}, http.StatusConflict)

	got := s.mustDo(http.MethodGet, runPath, nil, http.StatusOK)
	run := got["run"].(map[string]any)
	if str(run, "status") != "Completed" || run["pass_rate"].(float64) != 33.3 {
		t.Fatalf("unexpected run: %v", run)
	}

	report := s.mustDo(http.MethodGet, runPath+"/report", nil, http.StatusOK)
	if defects := report["defects"].([]any); len(defects) != 1 || report["counter_drift"].(bool) || report["completion_pending"].(bool) {
		t.Fatalf("unexpected report: %v", report)
	}

	share := s.mustDo(http.MethodPost, runPath+"/shares", nil, http.StatusCreated)
	shared := s.mustDo(http.MethodGet, str(share, "url"), nil, http.StatusOK)
	if str(shared["run"].(map[string]any), "run_id") != runID {
		t.Fatalf("unexpected shared report: %v", shared)
	}

	dash := s.mustDo(http.MethodGet, base+"/dashboard?window=today", nil, http.StatusOK)
	if dash["results"].(map[string]any)["total"].(float64) != 3 {
		t.Fatalf("unexpected dashboard: %v", dash)
	}

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+runPath+"/audit", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if lines := strings.Count(string(raw), "\n"); lines != 5 {
		t.Fatalf("expected 5 audit lines, got %d: %s", lines, raw)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	proj := s.mustDo(http.MethodPost, "/projects", map[string]any{"name": "Shop", "code": "SHOP"}, http.StatusCreated)
	base := "/projects/" + str(proj, "project_id")
	root := s.mustDo(http.MethodPost, base+"/suites", map[string]any{"name": "Root"}, http.StatusCreated)
	child := s.mustDo(http.MethodPost, base+"/suites", map[string]any{"name": "Child", "parent_suite_id": str(root, "suite_id")}, http.StatusCreated)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown project", http.MethodGet, "/projects/nope", nil, http.StatusNotFound, "not_found"},
		{"duplicate code", http.MethodPost, "/projects", map[string]any{"name": "Other", "code": "shop"}, http.StatusConflict, "conflict"},
		{"unknown field", http.MethodPost, "/projects", map[string]any{"name": "x", "code": "XX", "owner": "me"}, http.StatusBadRequest, "invalid_json"},
		{"invalid project", http.MethodPost, "/projects", map[string]any{"name": "x", "code": "a"}, http.StatusBadRequest, "invalid_input"},
		{"suite cycle", http.MethodPost, base + "/suites/" + str(root, "suite_id") + "/move", map[string]any{"parent_suite_id": str(child, "suite_id")}, http.StatusConflict, "suite_cycle"},
		{"unknown parent", http.MethodPost, base + "/suites", map[string]any{"name": "x", "parent_suite_id": "ghost"}, http.StatusBadRequest, "invalid_parent"},
		{"suite with children", http.MethodDelete, base + "/suites/" + str(root, "suite_id"), nil, http.StatusConflict, "conflict"},
		{"empty selection", http.MethodPost, base + "/runs", map[string]any{"suite_id": str(child, "suite_id")}, http.StatusBadRequest, "empty_selection"},
		{"no session", http.MethodPost, base + "/runs/ghost/outcome", map[string]any{"outcome": "Pass"}, http.StatusConflict, "no_live_session"},
		{"bad outcome", http.MethodPost, base + "/runs/ghost/outcome", map[string]any{"outcome": "maybe"}, http.StatusBadRequest, "invalid_outcome"},
		{"bad window", http.MethodGet, "/dashboard?window=decade", nil, http.StatusBadRequest, "invalid_window"},
		{"evidence disabled", http.MethodPost, base + "/evidence/presign", map[string]any{"filename": "a.png", "content_type": "image/png"}, http.StatusServiceUnavailable, "evidence_store_unavailable"},
		{"unknown share", http.MethodGet, "/shares/0123456789abcdef0123", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s.t = t
			status, body := s.do(tc.method, tc.path, tc.body)
			if status != tc.status || str(body, "error") != tc.code {
				t.Fatalf("expected %d %s, got %d %v", tc.status, tc.code, status, body)
			}
			if str(body, "request_id") == "" {
				t.Fatalf("missing request id: %v", body)
			}
		})
	}
}

func TestDefectWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	proj := s.mustDo(http.MethodPost, "/projects", map[string]any{"name": "Shop", "code": "SHOP"}, http.StatusCreated)
	base := "/projects/" + str(proj, "project_id")

	d := s.mustDo(http.MethodPost, base+"/defects", map[string]any{"title": "Logo", "description": "blurry", "severity": "low"}, http.StatusCreated)
	path := base + "/defects/" + str(d, "defect_id")
	s.mustDo(http.MethodPost, path+"/status", map[string]any{"status": "Closed"}, http.StatusConflict)
	updated := s.mustDo(http.MethodPost, path+"/status", map[string]any{"status": "In Progress"}, http.StatusOK)
	if str(updated, "status") != "In Progress" {
		t.Fatalf("unexpected status: %v", updated)
	}
	list := s.mustDo(http.MethodGet, base+"/defects?status=in_progress", nil, http.StatusOK)
	if len(list["defects"].([]any)) != 1 {
		t.Fatalf("unexpected list: %v", list)
	}
	s.mustDo(http.MethodDelete, path, nil, http.StatusNoContent)
	s.mustDo(http.MethodGet, path, nil, http.StatusNotFound)
}

// resetAfterCommit stores the run and then reports a dropped connection once.
type resetAfterCommit struct {
	repo.RunRepository
	pending int
}

func (r *resetAfterCommit) CreateRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error) {
	created, err := r.RunRepository.CreateRun(ctx, run)
	if err == nil && r.pending > 0 {
		r.pending--
		return domain.TestRun{}, errors.New("connection reset by peer")
	}
	return created, err
}

func TestRetryFailedStartOverHTTP(t *testing.T) {
	s := newTestServerWith(t, func(store repo.Store) repo.Store {
		store.Runs = &resetAfterCommit{RunRepository: store.Runs, pending: 1}
		return store
	})
	proj := s.mustDo(http.MethodPost, "/projects", map[string]any{"name": "Shop", "code": "SHOP"}, http.StatusCreated)
	base := "/projects/" + str(proj, "project_id")
	suite := s.mustDo(http.MethodPost, base+"/suites", map[string]any{"name": "Checkout"}, http.StatusCreated)
	sid := str(suite, "suite_id")
	for _, title := range []string{"pay by card", "pay later"} {
		s.mustDo(http.MethodPost, base+"/cases", map[string]any{"suite_id": sid, "title": title, "status": "Active"}, http.StatusCreated)
	}

	failed := s.mustDo(http.MethodPost, base+"/runs", map[string]any{"suite_id": sid}, http.StatusServiceUnavailable)
	runID := str(failed, "run_id")
	if failed["retryable"] != true || runID == "" || str(failed, "retry") != base+"/runs/"+runID+"/start" {
		t.Fatalf("failed start should name the run to retry: %v", failed)
	}

	view := s.mustDo(http.MethodPost, str(failed, "retry"), nil, http.StatusOK)
	if str(view, "state") != "Running" || str(view, "run_id") != runID || view["total"].(float64) != 2 {
		t.Fatalf("unexpected view after retry: %v", view)
	}
	list := s.mustDo(http.MethodGet, base+"/runs", nil, http.StatusOK)
	if got := list["runs"].([]any); len(got) != 1 || str(got[0].(map[string]any), "run_id") != runID {
		t.Fatalf("retry must not create a second run: %v", list)
	}
	s.mustDo(http.MethodPost, base+"/runs/"+runID+"/outcome", map[string]any{"outcome": "Pass"}, http.StatusOK)
	s.mustDo(http.MethodPost, base+"/runs/ghost/start", nil, http.StatusConflict)
}
