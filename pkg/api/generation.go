package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/openv0/openv0/pkg/logging"
	"github.com/openv0/openv0/pkg/storage"
)

// streamInterval is how often the SSE stream polls the session
var streamInterval = time.Second

// PlanRequest represents a plan or execute request
type PlanRequest struct {
	Prompt    string `json:"prompt"`
	ProjectID string `json:"project_id,omitempty"`
}

// StepRequest represents a single step execution request
type StepRequest struct {
	SessionID string `json:"session_id"`
	StepID    string `json:"step_id"`
}

// GenerationResponse is returned when a session is queued
type GenerationResponse struct {
	SessionID string                `json:"session_id"`
	Status    storage.SessionStatus `json:"status"`
	Message   string                `json:"message"`
	StatusURL string                `json:"status_url"`
}

// GeneratePlan handles POST /api/v1/generation/plan
func (s *Server) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	plan, err := s.generation.GeneratePlan(r.Context(), req.Prompt)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to generate plan")
		return
	}

	s.sendJSON(w, http.StatusOK, plan)
}

// ExecuteGeneration handles POST /api/v1/generation/execute
func (s *Server) ExecuteGeneration(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.ProjectID != "" {
		if _, err := s.projects.Get(r.Context(), req.ProjectID); err != nil {
			s.sendServiceError(w, r, err, "Failed to get project")
			return
		}
	}

	session, err := s.generation.Execute(r.Context(), req.Prompt, req.ProjectID)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to start generation")
		return
	}

	if req.ProjectID != "" {
		if err := s.projects.SetLastSession(r.Context(), req.ProjectID, session.ID); err != nil {
			// Generation is already queued, the link is informational
			logging.FromContext(r.Context(), s.logger).WithError(err).Warn("Failed to link session to project")
		}
	}

	s.sendJSON(w, http.StatusAccepted, GenerationResponse{
		SessionID: session.ID,
		Status:    session.Status,
		Message:   "Generation queued",
		StatusURL: "/api/v1/generation/status/" + session.ID,
	})
}

// ExecuteStep handles POST /api/v1/generation/step
func (s *Server) ExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.SessionID == "" || req.StepID == "" {
		s.sendError(w, http.StatusBadRequest, "session_id and step_id are required", "")
		return
	}

	session, err := s.generation.ExecuteStep(r.Context(), req.SessionID, req.StepID)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to execute step")
		return
	}

	s.sendJSON(w, http.StatusOK, session)
}

// GenerationStatus handles GET /api/v1/generation/status/{session_id}
func (s *Server) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.generation.Status(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to get session status")
		return
	}

	s.sendJSON(w, http.StatusOK, session)
}

// StreamGeneration handles Server-Sent Events (SSE) streaming of session updates.
// The stream ends after the session reaches a terminal status.
func (s *Server) StreamGeneration(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	ctx := r.Context()
	log := logging.FromContext(ctx, s.logger).WithField("session_id", sessionID)

	session, err := s.generation.Status(ctx, sessionID)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to get session status")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "Streaming not supported", "")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data interface{}) {
		payload, err := json.Marshal(data)
		if err != nil {
			log.WithError(err).Error("SSE: failed to encode event")
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	// Send current state immediately
	send("status", session)
	if session.Status.Terminal() {
		send("done", map[string]string{"status": string(session.Status)})
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	lastUpdate := session.UpdatedAt

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return
		case <-ticker.C:
			session, err := s.generation.Status(ctx, sessionID)
			if err != nil {
				// Session expired or Redis trouble, keep the client informed
				log.WithError(err).Warn("SSE: failed to read session")
				send("error", ErrorResponse{Error: "Session unavailable"})
				return
			}

			if !session.UpdatedAt.Equal(lastUpdate) {
				lastUpdate = session.UpdatedAt
				send("status", session)
			} else {
				send("heartbeat", map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			}

			if session.Status.Terminal() {
				send("done", map[string]string{"status": string(session.Status)})
				return
			}
		}
	}
}
