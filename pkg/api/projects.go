package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/openv0/openv0/pkg/projects"
)

// MessageResponse carries a human readable confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

// ListProjects handles GET /api/v1/projects?skip=&limit=
func (s *Server) ListProjects(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid skip parameter", err.Error())
		return
	}
	limit, err := queryInt(r, "limit", projects.DefaultLimit)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid limit parameter", err.Error())
		return
	}

	list, err := s.projects.List(r.Context(), skip, limit)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to list projects")
		return
	}

	s.sendJSON(w, http.StatusOK, list)
}

// GetProject handles GET /api/v1/projects/{id}
func (s *Server) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.projects.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to get project")
		return
	}

	s.sendJSON(w, http.StatusOK, project)
}

// CreateProject handles POST /api/v1/projects
func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projects.ProjectCreate
	if !s.decodeJSON(w, r, &req) {
		return
	}

	project, err := s.projects.Create(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to create project")
		return
	}

	s.logger.WithField("project_id", project.ID).Info("Created project")
	s.sendJSON(w, http.StatusCreated, project)
}

// UpdateProject handles PUT /api/v1/projects/{id}
func (s *Server) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projects.ProjectUpdate
	if !s.decodeJSON(w, r, &req) {
		return
	}

	project, err := s.projects.Update(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.sendServiceError(w, r, err, "Failed to update project")
		return
	}

	s.sendJSON(w, http.StatusOK, project)
}

// DeleteProject handles DELETE /api/v1/projects/{id}
func (s *Server) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.projects.Delete(r.Context(), id); err != nil {
		s.sendServiceError(w, r, err, "Failed to delete project")
		return
	}

	s.logger.WithField("project_id", id).Info("Deleted project")
	s.sendJSON(w, http.StatusOK, MessageResponse{Message: "Project deleted successfully"})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
