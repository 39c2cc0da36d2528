package main

import (
	"io"
	"net/http"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/catalog"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type updateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Code        *string `json:"code,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (api *qaAPI) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	p, err := api.catalog.CreateProject(r.Context(), buildAuditInfo(r), catalog.ProjectInput{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+p.ID)
	api.writeJSON(w, http.StatusCreated, projectFromDomain(p))
}

func (api *qaAPI) handleListProjects(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	list, err := api.catalog.ListProjects(r.Context(), repo.ProjectFilter{Name: r.URL.Query().Get("name"), Limit: limit})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]project, 0, len(list))
	for _, p := range list {
		out = append(out, projectFromDomain(p))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (api *qaAPI) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := api.catalog.GetProject(r.Context(), pathID(r, "project_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, projectFromDomain(p))
}

func (api *qaAPI) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	p, err := api.catalog.UpdateProject(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), catalog.ProjectPatch{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, projectFromDomain(p))
}

func (api *qaAPI) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := api.catalog.DeleteProject(r.Context(), buildAuditInfo(r), pathID(r, "project_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createSuiteRequest struct {
	ParentSuiteID string `json:"parent_suite_id,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
}

type updateSuiteRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type moveSuiteRequest struct {
	ParentSuiteID string `json:"parent_suite_id"`
}

func (api *qaAPI) handleCreateSuite(w http.ResponseWriter, r *http.Request) {
	var req createSuiteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	projectID := pathID(r, "project_id")
	s, err := api.catalog.CreateSuite(r.Context(), buildAuditInfo(r), projectID, catalog.SuiteInput{
		ParentSuiteID: req.ParentSuiteID,
		Name:          req.Name,
		Description:   req.Description,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+projectID+"/suites/"+s.ID)
	api.writeJSON(w, http.StatusCreated, suiteFromDomain(s))
}

func (api *qaAPI) handleListSuites(w http.ResponseWriter, r *http.Request) {
	list, err := api.catalog.ListSuites(r.Context(), pathID(r, "project_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]suite, 0, len(list))
	for _, s := range list {
		out = append(out, suiteFromDomain(s))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"suites": out})
}

func (api *qaAPI) handleSuiteTree(w http.ResponseWriter, r *http.Request) {
	tree, err := api.catalog.SuiteTree(r.Context(), pathID(r, "project_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"suites": suiteNodes(tree)})
}

func (api *qaAPI) handleGetSuite(w http.ResponseWriter, r *http.Request) {
	projectID, suiteID := pathID(r, "project_id"), pathID(r, "suite_id")
	s, err := api.catalog.GetSuite(r.Context(), projectID, suiteID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	path, err := api.catalog.SuitePath(r.Context(), projectID, suiteID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"suite": suiteFromDomain(s), "path": path})
}

func (api *qaAPI) handleUpdateSuite(w http.ResponseWriter, r *http.Request) {
	var req updateSuiteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	s, err := api.catalog.UpdateSuite(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "suite_id"), catalog.SuitePatch{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, suiteFromDomain(s))
}

func (api *qaAPI) handleMoveSuite(w http.ResponseWriter, r *http.Request) {
	var req moveSuiteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	s, err := api.catalog.MoveSuite(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "suite_id"), req.ParentSuiteID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, suiteFromDomain(s))
}

func (api *qaAPI) handleDeleteSuite(w http.ResponseWriter, r *http.Request) {
	if err := api.catalog.DeleteSuite(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "suite_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type caseRequest struct {
	SuiteID        string   `json:"suite_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Steps          []string `json:"steps,omitempty"`
	ExpectedResult string   `json:"expected_result,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Status         string   `json:"status,omitempty"`
	Type           string   `json:"type,omitempty"`
	Module         string   `json:"module,omitempty"`
}

type updateCaseRequest struct {
	SuiteID        *string   `json:"suite_id,omitempty"`
	Title          *string   `json:"title,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Steps          *[]string `json:"steps,omitempty"`
	ExpectedResult *string   `json:"expected_result,omitempty"`
	Priority       *string   `json:"priority,omitempty"`
	Status         *string   `json:"status,omitempty"`
	Type           *string   `json:"type,omitempty"`
	Module         *string   `json:"module,omitempty"`
}

func (api *qaAPI) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req caseRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	projectID := pathID(r, "project_id")
	tc, err := api.catalog.CreateCase(r.Context(), buildAuditInfo(r), projectID, catalog.CaseInput{
		SuiteID:        req.SuiteID,
		Title:          req.Title,
		Description:    req.Description,
		Steps:          req.Steps,
		ExpectedResult: req.ExpectedResult,
		Priority:       req.Priority,
		Status:         req.Status,
		Type:           req.Type,
		Module:         req.Module,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+projectID+"/cases/"+tc.ID)
	api.writeJSON(w, http.StatusCreated, caseFromDomain(tc))
}

func (api *qaAPI) handleListCases(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	q := r.URL.Query()
	filter := repo.CaseFilter{
		ProjectID: pathID(r, "project_id"),
		SuiteID:   strings.TrimSpace(q.Get("suite_id")),
		Module:    strings.TrimSpace(q.Get("module")),
		Limit:     limit,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseCaseStatus(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		priority, err := domain.ParsePriority(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_priority")
			return
		}
		filter.Priority = priority
	}
	list, err := api.catalog.ListCases(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]testCase, 0, len(list))
	for _, tc := range list {
		out = append(out, caseFromDomain(tc))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"cases": out})
}

func (api *qaAPI) handleGetCase(w http.ResponseWriter, r *http.Request) {
	tc, err := api.catalog.GetCase(r.Context(), pathID(r, "project_id"), pathID(r, "case_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, caseFromDomain(tc))
}

func (api *qaAPI) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	var req updateCaseRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	tc, err := api.catalog.UpdateCase(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "case_id"), catalog.CasePatch{
		SuiteID:        req.SuiteID,
		Title:          req.Title,
		Description:    req.Description,
		Steps:          req.Steps,
		ExpectedResult: req.ExpectedResult,
		Priority:       req.Priority,
		Status:         req.Status,
		Type:           req.Type,
		Module:         req.Module,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, caseFromDomain(tc))
}

func (api *qaAPI) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := api.catalog.DeleteCase(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), pathID(r, "case_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportCases accepts a YAML or JSON catalog body. The optional
// parent_suite_id query parameter nests the imported roots.
func (api *qaAPI) handleImportCases(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(body) > maxImportBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "import_too_large")
		return
	}
	doc, err := catalog.ParseImport(body)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	report, err := api.catalog.Import(r.Context(), buildAuditInfo(r), pathID(r, "project_id"), r.URL.Query().Get("parent_suite_id"), doc, nil)
	if err != nil {
		api.logger.Warn("import stopped", "project_id", pathID(r, "project_id"), "suites", len(report.Suites), "cases", len(report.CaseIDs), "error", err)
		api.writeServiceError(w, r, err)
		return
	}
	suites := make([]suite, 0, len(report.Suites))
	for _, s := range report.Suites {
		suites = append(suites, suiteFromDomain(s))
	}
	api.writeJSON(w, http.StatusCreated, map[string]any{"suites": suites, "case_ids": report.CaseIDs})
}
