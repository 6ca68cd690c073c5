package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/crawlservice/internal/admission"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errTitle, message string) {
	writeJSON(w, status, map[string]string{"error": errTitle, "message": message})
}

// clientIP extracts the submitting IP, preferring a reverse proxy's forwarded
// header over the raw connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return "127.0.0.1"
	}
	return host
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req admission.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	ip := clientIP(r)
	ipHash := common.HashHex(ip)

	activeCount, err := s.jobs.CountActiveJobsByIPHash(ipHash)
	if err != nil {
		s.logger.Error().Err(err).Msg("count active jobs by ip failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if err := admission.CheckConcurrency(activeCount, &s.config.Admission); err != nil {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        "rate limit exceeded",
			"message":      err.Error(),
			"current_jobs": activeCount,
		})
		return
	}

	submission, err := admission.Intake(req, ip, &s.config.Admission, s.config.Retention.JobExpiryHours, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url", err.Error())
		return
	}

	if err := s.jobs.SaveJob(submission.Job); err != nil {
		s.logger.Error().Err(err).Msg("save new job failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if _, err := s.ipUsage.Increment(ipHash, 1); err != nil {
		s.logger.Warn().Err(err).Msg("increment ip usage failed")
	}
	if err := s.events.Append(&models.JobEvent{
		JobID: submission.Job.ID, At: time.Now(), Level: models.EventLevelInfo, Type: models.EventTypeStateChange,
		Message: "job queued",
	}); err != nil {
		s.logger.Warn().Err(err).Msg("append job-queued event failed")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":          submission.Job.ID,
		"token":           submission.Token,
		"status_url":      "/v1/jobs/" + submission.Job.ID + "?token=" + submission.Token,
		"state":           submission.Job.State,
		"max_pages":       submission.Job.MaxPages,
		"timeout_seconds": submission.Job.TimeoutSeconds,
		"use_js":          submission.Job.UseJS,
	})
}

// authorizeJob loads the job named by the trailing path segment (after
// trimming suffix) and checks its token. It handles the 401/404/410 response
// writing itself; ok is false if the caller should return immediately.
func (s *Server) authorizeJob(w http.ResponseWriter, r *http.Request, jobID string) (*models.Job, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "token is required")
		return nil, false
	}

	job, err := s.jobs.GetJob(jobID)
	if err == badgerhold.ErrNotFound {
		writeError(w, http.StatusNotFound, "not found", "job not found or invalid token")
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return nil, false
	}
	if job.TokenHash != common.HashHex(token) {
		writeError(w, http.StatusNotFound, "not found", "job not found or invalid token")
		return nil, false
	}

	if job.State != models.JobStateExpired && time.Now().After(job.ExpiresAt) {
		now := time.Now()
		if updated, err := s.jobs.Transition(r.Context(), jobID, models.JobStateExpired, func(j *models.Job) {
			j.FinishedAt = &now
		}, models.JobStateQueued, models.JobStateRunning, models.JobStateFinalizing); err == nil {
			job = updated
		}
		// A job already in another terminal state (DONE/FAILED/CANCELLED) is
		// left alone here — Transition rejects the write and the job keeps
		// serving its existing state until the worker's own retention sweep
		// purges it, rather than this request handler mutating a job that
		// already finished.
	}
	if job.State == models.JobStateExpired {
		writeError(w, http.StatusGone, "gone", "job has expired")
		return nil, false
	}

	return job, true
}

// jobIDFromPath trims a known suffix off the path to recover {id} from
// /v1/jobs/{id}<suffix>.
func jobIDFromPath(r *http.Request, suffix string) string {
	path := strings.TrimPrefix(r.URL.Path, jobsPrefix)
	return strings.TrimSuffix(path, suffix)
}

func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, jobsPrefix)
	job, ok := s.authorizeJob(w, r, jobID)
	if !ok {
		return
	}

	var elapsedSeconds *int64
	if job.StartedAt != nil {
		end := time.Now()
		if job.FinishedAt != nil {
			end = *job.FinishedAt
		}
		secs := int64(end.Sub(*job.StartedAt).Seconds())
		elapsedSeconds = &secs
	}

	resp := map[string]any{
		"job_id":          job.ID,
		"state":           job.State,
		"start_url":       job.SeedURL,
		"allowed_host":    job.AllowedHost,
		"max_pages":       job.MaxPages,
		"pages_fetched":   job.PagesFetched,
		"pages_exported":  job.PagesExported,
		"errors_count":    job.ErrorsCount,
		"elapsed_seconds": elapsedSeconds,
		"restart_count":   job.RestartCount,
		"created_at":      job.CreatedAt,
		"started_at":      job.StartedAt,
		"finished_at":     job.FinishedAt,
		"expires_at":      job.ExpiresAt,
		"site_status":     job.SiteStatus,
	}
	if job.BlockEvidence != nil {
		resp["block_evidence"] = job.BlockEvidence
	}
	if job.LastError != nil {
		resp["last_error"] = job.LastError
	}
	if job.DownloadReady() {
		resp["download_url"] = "/v1/jobs/" + job.ID + "/download/pages.jsonl?token=" + r.URL.Query().Get("token")
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	jobID := jobIDFromPath(r, "/cancel")
	if _, ok := s.authorizeJob(w, r, jobID); !ok {
		return
	}

	now := time.Now()
	updated, err := s.jobs.Transition(r.Context(), jobID, models.JobStateCancelled, func(j *models.Job) {
		j.FinishedAt = &now
	}, models.JobStateQueued, models.JobStateRunning, models.JobStateFinalizing)
	if err != nil {
		if errors.Is(err, badgerstore.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "conflict", "job is already in a terminal state")
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("cancel job failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if err := s.events.Append(&models.JobEvent{
		JobID: jobID, At: now, Level: models.EventLevelInfo, Type: models.EventTypeStateChange,
		Message: "job cancelled via api",
	}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("append cancel event failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{"job_id": updated.ID, "state": updated.State})
}

func (s *Server) handleDownloadPages(w http.ResponseWriter, r *http.Request) {
	s.handleDownload(w, r, "/download/pages.jsonl", "pages.jsonl", "application/x-ndjson")
}

func (s *Server) handleDownloadSummary(w http.ResponseWriter, r *http.Request) {
	s.handleDownload(w, r, "/download/summary.json", "summary.json", "application/json")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, suffix, filename, contentType string) {
	jobID := jobIDFromPath(r, suffix)
	job, ok := s.authorizeJob(w, r, jobID)
	if !ok {
		return
	}
	if job.State != models.JobStateDone {
		writeError(w, http.StatusBadRequest, "bad request", "job is not complete: current state "+string(job.State))
		return
	}

	path := filepath.Join(s.config.Storage.JobsDir, jobID, filename)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found", "output file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+jobID+"_"+filename+"\"")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// pageSummary is the trimmed shape returned for live-progress listing —
// matches the table-display fields the original worker's raw log viewer
// returns, not the full pipeline record.
type pageSummary struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	StatusCode     int    `json:"status_code"`
	Depth          int    `json:"depth"`
	ExtractionMode string `json:"extraction_mode"`
	TextLength     int    `json:"text_length"`
	OutlinksCount  int    `json:"outlinks_count"`
}

func readRawPages(rawPath string) []pageSummary {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return nil
	}
	var pages []pageSummary
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record models.RawPageRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		pages = append(pages, pageSummary{
			URL:            record.URL,
			Title:          record.Title,
			StatusCode:     record.StatusCode,
			Depth:          record.Depth,
			ExtractionMode: string(record.ExtractionMode),
			TextLength:     len(record.Text),
			OutlinksCount:  record.OutlinksCount,
		})
	}
	return pages
}

// handleListPages serves the live-progress page list. A plain GET returns a
// JSON snapshot (the original's polling contract); a WebSocket upgrade
// request instead gets the same snapshot pushed on an interval until the job
// reaches a terminal state or the client disconnects.
func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r, "/pages")
	job, ok := s.authorizeJob(w, r, jobID)
	if !ok {
		return
	}

	rawPath := filepath.Join(s.config.Storage.JobsDir, jobID, "pages.raw.jsonl")

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.streamPages(w, r, jobID, rawPath)
		return
	}

	pages := readRawPages(rawPath)
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      jobID,
		"state":       job.State,
		"total_pages": len(pages),
		"pages":       pages,
	})
}

func (s *Server) streamPages(w http.ResponseWriter, r *http.Request, jobID, rawPath string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		job, err := s.jobs.GetJob(jobID)
		if err != nil {
			return
		}
		pages := readRawPages(rawPath)
		payload := map[string]any{
			"job_id":      jobID,
			"state":       job.State,
			"total_pages": len(pages),
			"pages":       pages,
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
		if job.State.IsTerminal() {
			return
		}

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}
