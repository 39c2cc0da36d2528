package main

import (
	"net/http"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/execution/engine"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/runs"
)

type startRunRequest struct {
	SuiteID    string   `json:"suite_id"`
	Title      string   `json:"title,omitempty"`
	RunnerName string   `json:"runner_name,omitempty"`
	CaseIDs    []string `json:"case_ids,omitempty"`
}

type outcomeRequest struct {
	Outcome      string `json:"outcome"`
	Remarks      string `json:"remarks,omitempty"`
	ActualResult string `json:"actual_result,omitempty"`
	EvidenceRef  string `json:"evidence_ref,omitempty"`
}

type defectDetailsRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

// writeView answers a session transition. Clients re-read the run after an
// error to see where the session stands.
func (api *qaAPI) writeView(w http.ResponseWriter, r *http.Request, view engine.View, err error) {
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

func (api *qaAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	projectID := pathID(r, "project_id")
	view, err := api.runs.StartRun(r.Context(), buildAuditInfo(r), projectID, runs.StartInput{
		SuiteID:    req.SuiteID,
		Title:      req.Title,
		RunnerName: req.RunnerName,
		CaseIDs:    req.CaseIDs,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+projectID+"/runs/"+view.RunID)
	api.writeJSON(w, http.StatusCreated, view)
}

// handleRetryStart finishes a start that answered 503 with a run_id.
func (api *qaAPI) handleRetryStart(w http.ResponseWriter, r *http.Request) {
	view, err := api.runs.RetryStart(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "run_id"))
	api.writeView(w, r, view, err)
}

func (api *qaAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	since, err := querySince(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_since")
		return
	}
	q := r.URL.Query()
	filter := repo.RunFilter{
		ProjectID: pathID(r, "project_id"),
		SuiteID:   strings.TrimSpace(q.Get("suite_id")),
		Since:     since,
		Limit:     limit,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		filter.Status = domain.NormalizeRunStatus(raw)
		if filter.Status == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
	}
	list, err := api.runs.ListRuns(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]testRun, 0, len(list))
	for _, run := range list {
		out = append(out, runFromDomain(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out, "live": api.runs.Live()})
}

func (api *qaAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rv, err := api.runs.View(r.Context(), pathID(r, "project_id"), pathID(r, "run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run":     runFromDomain(rv.Run),
		"session": rv.Session,
		"summary": rv.Summary,
	})
}

func (api *qaAPI) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	view, err := api.runs.Record(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "run_id"), runs.OutcomeRequest{
		Outcome:      req.Outcome,
		Remarks:      req.Remarks,
		ActualResult: req.ActualResult,
		EvidenceRef:  req.EvidenceRef,
	})
	api.writeView(w, r, view, err)
}

func (api *qaAPI) handleDefectDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := api.runs.DefectDraft(r.Context(), pathID(r, "project_id"), pathID(r, "run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, draft)
}

func (api *qaAPI) handleSubmitDefect(w http.ResponseWriter, r *http.Request) {
	var req defectDetailsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	view, err := api.runs.SubmitDefect(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "run_id"), engine.DefectDetails{
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.Severity(req.Severity),
		AssignedTo:  req.AssignedTo,
		EvidenceRef: req.EvidenceRef,
	})
	api.writeView(w, r, view, err)
}

func (api *qaAPI) handleCancelDefect(w http.ResponseWriter, r *http.Request) {
	view, err := api.runs.CancelDefect(r.Context(), pathID(r, "project_id"), pathID(r, "run_id"))
	api.writeView(w, r, view, err)
}

func (api *qaAPI) handleFinishRun(w http.ResponseWriter, r *http.Request) {
	view, err := api.runs.Finish(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "run_id"))
	api.writeView(w, r, view, err)
}

func (api *qaAPI) handleAbandonRun(w http.ResponseWriter, r *http.Request) {
	if err := api.runs.Abandon(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "run_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *qaAPI) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	projectID, runID := pathID(r, "project_id"), pathID(r, "run_id")
	if _, err := api.runs.View(r.Context(), projectID, runID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := api.runs.ExportAudit(r.Context(), projectID, runID, w); err != nil {
		api.logger.Error("audit export failed", "run_id", runID, "error", err)
	}
}
