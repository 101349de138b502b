package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TheProjectSEO/shield/pkg/engine"
	"github.com/TheProjectSEO/shield/pkg/health"
	"github.com/TheProjectSEO/shield/pkg/queue"
)

// createJobRequest is the POST /v1/jobs body.
type createJobRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	MaxTokens   int    `json:"max_tokens,omitempty"`
	Priority    string `json:"priority,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleHealth serves the aggregate health report. Degraded still
// returns 200; unhealthy and critical return 503 so load balancers can
// rotate the instance out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.eng.Health()
	status := http.StatusOK
	if report.Overall >= health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// handleCreateJob answers from cache when possible; otherwise it
// returns 202 with the queued job's ID.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := s.eng.Generate(r.Context(), engine.GenerateRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Priority:    queue.ParsePriority(req.Priority),
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if result.Cached {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.eng.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	jobs := s.eng.DeadLetters()
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleRetryDLQ(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.eng.RetryDeadLetter(id); err != nil {
		if errors.Is(err, queue.ErrNotInDLQ) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "requeued"})
}
