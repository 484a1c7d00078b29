package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/openv0/openv0/pkg/generation"
	"github.com/openv0/openv0/pkg/logging"
	"github.com/openv0/openv0/pkg/pages"
	"github.com/openv0/openv0/pkg/preview"
	"github.com/openv0/openv0/pkg/storage"
	g "maragu.dev/gomponents"
)

// Landing serves the static home page. It reads no state.
func (s *Server) Landing(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, pages.Landing())
}

// GeneratorPage serves the prompt form with a fresh CSRF token
func (s *Server) GeneratorPage(w http.ResponseWriter, r *http.Request) {
	s.renderGenerator(w, r, http.StatusOK, "", "")
}

// SubmitGenerator handles the prompt form and redirects to the session page
func (s *Server) SubmitGenerator(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		s.renderGenerator(w, r, http.StatusBadRequest, "", "The form could not be read, please try again.")
		return
	}
	prompt := r.PostFormValue("prompt")

	valid, err := s.consumeCSRFToken(r.Context(), r.PostFormValue("csrf_token"))
	if err != nil {
		s.logError(r, err, "Failed to validate CSRF token")
		s.renderGenerator(w, r, http.StatusInternalServerError, prompt, "Something went wrong, please try again.")
		return
	}
	if !valid {
		s.renderGenerator(w, r, http.StatusForbidden, prompt, "Your form expired, please submit it again.")
		return
	}

	session, err := s.generation.Execute(r.Context(), prompt, "")
	switch {
	case err == nil:
	case errors.Is(err, generation.ErrInvalidPrompt):
		s.renderGenerator(w, r, http.StatusBadRequest, prompt, "Please describe your website in 1 to 4000 characters.")
		return
	case errors.Is(err, generation.ErrLLMUnavailable):
		s.renderGenerator(w, r, http.StatusServiceUnavailable, prompt, "Generation is not available right now.")
		return
	default:
		s.logError(r, err, "Failed to start generation")
		s.renderGenerator(w, r, http.StatusInternalServerError, prompt, "Something went wrong, please try again.")
		return
	}

	http.Redirect(w, r, pages.GeneratorPath+"/"+session.ID, http.StatusSeeOther)
}

// SessionPage shows the progress and preview of a generation session
func (s *Server) SessionPage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	session, err := s.generation.Status(r.Context(), sessionID)
	if errors.Is(err, generation.ErrNotFound) {
		s.renderNotFound(w, r, "This generation session does not exist or has expired.")
		return
	}
	if err != nil {
		s.renderProblem(w, r, err, "Failed to load session")
		return
	}

	view := pages.SessionView{Session: session}

	p, err := s.previews.Get(r.Context(), sessionID)
	switch {
	case err == nil:
		view.Preview = p
	case !errors.Is(err, preview.ErrNotFound):
		logging.FromContext(r.Context(), s.logger).WithError(err).Warn("Failed to load preview")
	}

	if view.Preview != nil && session.Status == storage.StatusCompleted {
		token, _, err := s.shares.CreateToken(sessionID)
		if err != nil {
			logging.FromContext(r.Context(), s.logger).WithError(err).Warn("Failed to create share link")
		} else {
			view.ShareURL = "/shared/" + token
		}
	}

	s.renderPage(w, r, http.StatusOK, pages.Session(view))
}

// SharedPage renders a preview from a signed share token
func (s *Server) SharedPage(w http.ResponseWriter, r *http.Request) {
	const gone = "This share link is invalid or has expired."

	claims, err := s.shares.ValidateToken(mux.Vars(r)["token"])
	if err != nil {
		s.renderNotFound(w, r, gone)
		return
	}

	p, err := s.previews.Get(r.Context(), claims.SessionID)
	if errors.Is(err, preview.ErrNotFound) {
		s.renderNotFound(w, r, gone)
		return
	}
	if err != nil {
		s.renderProblem(w, r, err, "Failed to load preview")
		return
	}

	s.renderPage(w, r, http.StatusOK, pages.Shared(p))
}

func (s *Server) renderGenerator(w http.ResponseWriter, r *http.Request, status int, prompt, message string) {
	token, _, err := s.issueCSRFToken(r.Context())
	if err != nil {
		s.renderProblem(w, r, err, "Failed to issue CSRF token")
		return
	}

	s.renderPage(w, r, status, pages.Generator(pages.GeneratorForm{
		CSRFToken: token,
		Prompt:    prompt,
		Error:     message,
		Enabled:   s.generation.Enabled(),
		MaxLength: generation.MaxPromptLength,
	}))
}

func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request, message string) {
	s.renderPage(w, r, http.StatusNotFound, pages.NotFound(message))
}

// renderProblem logs err and serves a generic error page
func (s *Server) renderProblem(w http.ResponseWriter, r *http.Request, err error, msg string) {
	s.logError(r, err, msg)
	s.renderPage(w, r, http.StatusInternalServerError, pages.Problem("Something went wrong", "Please try again in a moment."))
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, node g.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := node.Render(w); err != nil {
		logging.FromContext(r.Context(), s.logger).WithError(err).Error("Failed to render page")
	}
}
