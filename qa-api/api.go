package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/execution/engine"
	"github.com/animus-labs/qadash/internal/platform/httpserver"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/animus-labs/qadash/internal/service/catalog"
	"github.com/animus-labs/qadash/internal/service/defects"
	"github.com/animus-labs/qadash/internal/service/evidence"
	"github.com/animus-labs/qadash/internal/service/reports"
	"github.com/animus-labs/qadash/internal/service/runs"
	"github.com/animus-labs/qadash/internal/suitetree"
)

const serviceName = "qa-api"

const maxImportBytes = 4 << 20

type qaAPI struct {
	logger   *slog.Logger
	catalog  *catalog.Service
	runs     *runs.Service
	defects  *defects.Service
	reports  *reports.Service
	evidence *evidence.Service
}

func (api *qaAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects", api.handleCreateProject)
	mux.HandleFunc("GET /projects", api.handleListProjects)
	mux.HandleFunc("GET /projects/{project_id}", api.handleGetProject)
	mux.HandleFunc("PATCH /projects/{project_id}", api.handleUpdateProject)
	mux.HandleFunc("DELETE /projects/{project_id}", api.handleDeleteProject)

	mux.HandleFunc("POST /projects/{project_id}/suites", api.handleCreateSuite)
	mux.HandleFunc("GET /projects/{project_id}/suites", api.handleListSuites)
	mux.HandleFunc("GET /projects/{project_id}/suites/tree", api.handleSuiteTree)
	mux.HandleFunc("GET /projects/{project_id}/suites/{suite_id}", api.handleGetSuite)
	mux.HandleFunc("PATCH /projects/{project_id}/suites/{suite_id}", api.handleUpdateSuite)
	mux.HandleFunc("DELETE /projects/{project_id}/suites/{suite_id}", api.handleDeleteSuite)
	mux.HandleFunc("POST /projects/{project_id}/suites/{suite_id}/move", api.handleMoveSuite)

	mux.HandleFunc("POST /projects/{project_id}/cases", api.handleCreateCase)
	mux.HandleFunc("GET /projects/{project_id}/cases", api.handleListCases)
	mux.HandleFunc("POST /projects/{project_id}/cases/import", api.handleImportCases)
	mux.HandleFunc("GET /projects/{project_id}/cases/{case_id}", api.handleGetCase)
	mux.HandleFunc("PATCH /projects/{project_id}/cases/{case_id}", api.handleUpdateCase)
	mux.HandleFunc("DELETE /projects/{project_id}/cases/{case_id}", api.handleDeleteCase)

	mux.HandleFunc("POST /projects/{project_id}/runs", api.handleStartRun)
	mux.HandleFunc("GET /projects/{project_id}/runs", api.handleListRuns)
	mux.HandleFunc("GET /projects/{project_id}/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /projects/{project_id}/runs/{run_id}/start", api.handleRetryStart)
	mux.HandleFunc("POST /projects/{project_id}/runs/{run_id}/outcome", api.handleRecordOutcome)
	mux.HandleFunc("GET /projects/{project_id}/runs/{run_id}/defect", api.handleDefectDraft)
	mux.HandleFunc("POST /projects/{project_id}/runs/{run_id}/defect", api.handleSubmitDefect)
	mux.HandleFunc("POST /projects/{project_id}/runs/{run_id}/defect/cancel", api.handleCancelDefect)
	mux.HandleFunc("POST /projects/{project_id}/runs/{run_id}/finish", api.handleFinishRun)
	mux.HandleFunc("DELETE /projects/{project_id}/runs/{run_id}/session", api.handleAbandonRun)
	mux.HandleFunc("GET /projects/{project_id}/runs/{run_id}/report", api.handleRunReport)
	mux.HandleFunc("GET /projects/{project_id}/runs/{run_id}/audit", api.handleRunAudit)
	mux.HandleFunc("POST /projects/{project_id}/runs/{run_id}/shares", api.handleCreateShare)
	mux.HandleFunc("GET /shares/{token}", api.handleResolveShare)

	mux.HandleFunc("POST /projects/{project_id}/defects", api.handleCreateDefect)
	mux.HandleFunc("GET /projects/{project_id}/defects", api.handleListDefects)
	mux.HandleFunc("GET /projects/{project_id}/defects/{defect_id}", api.handleGetDefect)
	mux.HandleFunc("PATCH /projects/{project_id}/defects/{defect_id}", api.handleUpdateDefect)
	mux.HandleFunc("DELETE /projects/{project_id}/defects/{defect_id}", api.handleDeleteDefect)
	mux.HandleFunc("POST /projects/{project_id}/defects/{defect_id}/status", api.handleDefectStatus)

	mux.HandleFunc("GET /dashboard", api.handleDashboard)
	mux.HandleFunc("GET /projects/{project_id}/dashboard", api.handleDashboard)

	mux.HandleFunc("POST /projects/{project_id}/evidence/presign", api.handlePresignEvidence)
	mux.HandleFunc("GET /projects/{project_id}/evidence", api.handleEvidenceDownload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func buildAuditInfo(r *http.Request) audit.Info {
	return audit.Info{
		Actor:     httpserver.ActorFromContext(r.Context()),
		RequestID: r.Header.Get(httpserver.HeaderRequestID),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Service:   serviceName,
	}
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 1000 {
		return 0, errors.New("limit must be between 0 and 1000")
	}
	return n, nil
}

func querySince(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (api *qaAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *qaAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
	})
}

func (api *qaAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
		"details":    details,
	})
}

// writeServiceError maps service and engine errors onto HTTP responses.
// Persistence failures come first: they may also wrap a store error.
func (api *qaAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrPersistence):
		body := map[string]any{
			"error":      "persistence_failed",
			"request_id": r.Header.Get(httpserver.HeaderRequestID),
			"retryable":  true,
		}
		var startErr *runs.StartError
		if errors.As(err, &startErr) {
			body["run_id"] = startErr.RunID
			body["retry"] = "/projects/" + pathID(r, "project_id") + "/runs/" + startErr.RunID + "/start"
		}
		api.writeJSON(w, http.StatusServiceUnavailable, body)
	case errors.Is(err, runs.ErrNoSession):
		api.writeError(w, r, http.StatusConflict, "no_live_session")
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, reports.ErrShareExpired):
		api.writeError(w, r, http.StatusGone, "share_expired")
	case errors.Is(err, engine.ErrBusy):
		api.writeError(w, r, http.StatusConflict, "busy")
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrAbandoned):
		api.writeErrorWithDetails(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, suitetree.ErrCycle):
		api.writeError(w, r, http.StatusConflict, "suite_cycle")
	case errors.Is(err, defects.ErrInvalidTransition):
		api.writeErrorWithDetails(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, engine.ErrEmptySelection):
		api.writeError(w, r, http.StatusBadRequest, "empty_selection")
	case errors.Is(err, engine.ErrCaseNotSelectable):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "case_not_selectable", err.Error())
	case errors.Is(err, engine.ErrInvalidOutcome):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_outcome", err.Error())
	case errors.Is(err, engine.ErrInvalidDefect):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_defect", err.Error())
	case errors.Is(err, evidence.ErrUnsupportedContent):
		api.writeErrorWithDetails(w, r, http.StatusUnsupportedMediaType, "unsupported_content_type", err.Error())
	case errors.Is(err, suitetree.ErrUnknownParent), errors.Is(err, suitetree.ErrCrossProject):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_parent", err.Error())
	case errors.Is(err, catalog.ErrInvalidInput), errors.Is(err, runs.ErrInvalidInput), errors.Is(err, repo.ErrInvalid),
		errors.Is(err, defects.ErrInvalidInput), errors.Is(err, reports.ErrInvalidInput),
		errors.Is(err, evidence.ErrInvalidInput):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		api.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
