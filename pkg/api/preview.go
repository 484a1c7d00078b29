package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// PreviewUpdateRequest represents a preview update
type PreviewUpdateRequest struct {
	SessionID string `json:"session_id"`
	HTML      string `json:"html"`
}

// ShareResponse carries a signed share link
type ShareResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UpdatePreview handles POST /api/v1/preview/update
func (s *Server) UpdatePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.SessionID == "" {
		s.sendError(w, http.StatusBadRequest, "session_id is required", "")
		return
	}

	p, err := s.previews.Publish(r.Context(), req.SessionID, req.HTML)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to update preview")
		return
	}

	s.sendJSON(w, http.StatusOK, p)
}

// GetPreview handles GET /api/v1/preview/{session_id}
func (s *Server) GetPreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.previews.Get(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to get preview")
		return
	}

	s.sendJSON(w, http.StatusOK, p)
}

// RefreshPreview handles POST /api/v1/preview/refresh/{session_id}
func (s *Server) RefreshPreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.previews.Refresh(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to refresh preview")
		return
	}

	s.sendJSON(w, http.StatusOK, p)
}

// SharePreview handles POST /api/v1/preview/share/{session_id}
func (s *Server) SharePreview(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	// Only existing previews can be shared
	if _, err := s.previews.Get(r.Context(), sessionID); err != nil {
		s.sendServiceError(w, r, err, "Failed to get preview")
		return
	}

	token, expiresAt, err := s.shares.CreateToken(sessionID)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to create share link")
		return
	}

	s.sendJSON(w, http.StatusCreated, ShareResponse{
		Token:     token,
		URL:       "/shared/" + token,
		ExpiresAt: expiresAt,
	})
}
