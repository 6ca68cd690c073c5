package server

import "net/http"

const jobsPrefix = "/v1/jobs/"

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/v1/jobs", s.handleJobsCollection) // POST create
	mux.HandleFunc(jobsPrefix, s.handleJobSubroutes)    // GET/POST /v1/jobs/{id}/...

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	s.handleCreateJob(w, r)
}

// handleJobSubroutes dispatches every request under /v1/jobs/{id}... by path
// suffix, mirroring the teacher's suffix-dispatch idiom for sub-resources.
func (s *Server) handleJobSubroutes(w http.ResponseWriter, r *http.Request) {
	matched := RouteByPathSuffix(w, r, jobsPrefix, []PathSuffixRouter{
		{Suffix: "/download/pages.jsonl", Handler: s.handleDownloadPages},
		{Suffix: "/download/summary.json", Handler: s.handleDownloadSummary},
		{Suffix: "/pages", Handler: s.handleListPages},
		{Suffix: "/cancel", Handler: s.handleCancelJob},
	})
	if matched {
		return
	}

	// Bare /v1/jobs/{id} — job status.
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	s.handleGetJobStatus(w, r)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found", "no such route")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"store":  "badger",
	})
}
