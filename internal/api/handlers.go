package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mlcopy/internal/database"
	"mlcopy/internal/models"
	"mlcopy/internal/service"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleCreateListingJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req service.ListingJobRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.svc.CreateListingJob(r.Context(), req)
	if err != nil {
		writeError(w, jobErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *HTTPServer) handleCreateCompatJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req service.CompatJobRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, resolution, err := s.svc.CreateCompatJob(r.Context(), req)
	if err != nil {
		resp := map[string]any{"error": err.Error()}
		if resolution != nil {
			resp["resolution"] = resolution
		}
		writeJSON(w, jobErrorStatus(err), resp)
		return
	}

	resp := map[string]any{"job": job}
	if resolution != nil {
		resp["resolution"] = resolution
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := database.JobFilter{
		Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}

	jobs, err := s.db.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleJob serves /api/v1/jobs/{id} and /api/v1/jobs/{id}/resume.
func (s *HTTPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/jobs/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if id, found := strings.CutSuffix(rest, "/resume"); found {
		s.handleResume(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimSpace(rest)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	view, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleResume(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req service.ResumeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.JobID = strings.TrimSpace(jobID)

	view, err := s.svc.Resume(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, service.ErrNotResumable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleItemPreview serves GET /api/v1/items/{id}/preview.
func (s *HTTPServer) handleItemPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/items/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	id, found := strings.CutSuffix(rest, "/preview")
	id = strings.TrimSpace(id)
	if !found || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	preview, err := s.svc.PreviewItem(r.Context(), account, id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownAccount):
			writeError(w, http.StatusNotFound, err.Error())
		case strings.Contains(err.Error(), "disabled"):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *HTTPServer) handleSearchSKU(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	skus := splitCSV(r.URL.Query().Get("skus"))
	if len(skus) == 0 {
		writeError(w, http.StatusBadRequest, "skus is required")
		return
	}
	sourceAccount := strings.TrimSpace(r.URL.Query().Get("exclude_account"))

	result, err := s.svc.PreviewSKU(r.Context(), skus, sourceAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	accounts, err := s.db.ListAccounts(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// handleAccountActive serves POST /api/v1/accounts/{slug}/active, an
// admin-only toggle.
func (s *HTTPServer) handleAccountActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.admin.Check(r) {
		writeError(w, http.StatusUnauthorized, "admin token required")
		return
	}

	const prefix = "/api/v1/accounts/"
	slug, found := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/active")
	if !found || slug == "" || strings.Contains(slug, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.db.SetAccountActive(r.Context(), slug, body.Active); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slug": slug, "active": body.Active})
}

func (s *HTTPServer) handleExportJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "exports are not configured")
		return
	}

	filter := database.JobFilter{
		Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  models.MaxListLimit,
	}
	jobs, err := s.db.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	path, err := s.exporter.ExportJobs(r.Context(), jobs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": path, "jobs": len(jobs)})
}

func jobErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoTargets):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
