package main

import (
	"net/http"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/defects"
)

type createDefectRequest struct {
	CaseID      string `json:"case_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

type updateDefectRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Severity    *string `json:"severity,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	EvidenceRef *string `json:"evidence_ref,omitempty"`
}

type defectStatusRequest struct {
	Status string `json:"status"`
}

func (api *qaAPI) handleCreateDefect(w http.ResponseWriter, r *http.Request) {
	var req createDefectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	projectID := pathID(r, "project_id")
	d, err := api.defects.Create(r.Context(), buildAuditInfo(r), projectID, defects.Input{
		CaseID:      req.CaseID,
		RunID:       req.RunID,
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		AssignedTo:  req.AssignedTo,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+projectID+"/defects/"+d.ID)
	api.writeJSON(w, http.StatusCreated, defectFromDomain(d))
}

func (api *qaAPI) handleListDefects(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	q := r.URL.Query()
	filter := repo.DefectFilter{
		ProjectID: pathID(r, "project_id"),
		RunID:     strings.TrimSpace(q.Get("run_id")),
		CaseID:    strings.TrimSpace(q.Get("case_id")),
		Limit:     limit,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		if filter.Status, err = domain.ParseDefectStatus(raw); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
	}
	if raw := strings.TrimSpace(q.Get("severity")); raw != "" {
		if filter.Severity, err = domain.ParseSeverity(raw); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_severity")
			return
		}
	}
	list, err := api.defects.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]defect, 0, len(list))
	for _, d := range list {
		out = append(out, defectFromDomain(d))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"defects": out})
}

func (api *qaAPI) handleGetDefect(w http.ResponseWriter, r *http.Request) {
	d, err := api.defects.Get(r.Context(), pathID(r, "project_id"), pathID(r, "defect_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, defectFromDomain(d))
}

func (api *qaAPI) handleUpdateDefect(w http.ResponseWriter, r *http.Request) {
	var req updateDefectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	d, err := api.defects.Update(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "defect_id"), defects.Patch{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		AssignedTo:  req.AssignedTo,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, defectFromDomain(d))
}

func (api *qaAPI) handleDefectStatus(w http.ResponseWriter, r *http.Request) {
	var req defectStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	d, err := api.defects.Transition(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "defect_id"), req.Status)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, defectFromDomain(d))
}

func (api *qaAPI) handleDeleteDefect(w http.ResponseWriter, r *http.Request) {
	if err := api.defects.Delete(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "defect_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
