package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/service/reports"
)

type createShareRequest struct {
	// TTL is a Go duration ("72h"). Empty uses the server default.
	TTL string `json:"ttl,omitempty"`
}

type presignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (api *qaAPI) handleDashboard(w http.ResponseWriter, r *http.Request) {
	window, err := reports.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_window")
		return
	}
	dash, err := api.reports.Dashboard(r.Context(), pathID(r, "project_id"), window)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, dash)
}

func (api *qaAPI) handleRunReport(w http.ResponseWriter, r *http.Request) {
	report, err := api.reports.RunReport(r.Context(), pathID(r, "project_id"), pathID(r, "run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, reportFromService(report))
}

func (api *qaAPI) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	var ttl time.Duration
	if raw := strings.TrimSpace(req.TTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_ttl")
			return
		}
		ttl = parsed
	}
	share, err := api.reports.CreateShare(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "run_id"), ttl)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, reportShare{
		ShareID:   share.ID,
		RunID:     share.RunID,
		Token:     share.Token,
		URL:       "/shares/" + share.Token,
		CreatedAt: share.CreatedAt,
		ExpiresAt: share.ExpiresAt,
	})
}

func (api *qaAPI) handleResolveShare(w http.ResponseWriter, r *http.Request) {
	report, err := api.reports.ResolveShare(r.Context(), pathID(r, "token"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, reportFromService(report))
}

func (api *qaAPI) handlePresignEvidence(w http.ResponseWriter, r *http.Request) {
	if api.evidence == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "evidence_store_unavailable")
		return
	}
	var req presignRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	projectID := pathID(r, "project_id")
	if _, err := api.catalog.GetProject(r.Context(), projectID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	up, err := api.evidence.PresignUpload(r.Context(), projectID, req.Filename, req.ContentType)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, up)
}

func (api *qaAPI) handleEvidenceDownload(w http.ResponseWriter, r *http.Request) {
	if api.evidence == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "evidence_store_unavailable")
		return
	}
	down, err := api.evidence.PresignDownload(r.Context(), pathID(r, "project_id"), r.URL.Query().Get("ref"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, down)
}
