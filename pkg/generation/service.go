// Package generation turns a website prompt into a plan and generated HTML.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openv0/openv0/pkg/metrics"
	"github.com/openv0/openv0/pkg/storage"
	"github.com/sirupsen/logrus"
)

const (
	// MaxPromptLength bounds prompts in characters
	MaxPromptLength = 4000
	// LockTTL bounds how long one holder may process a session
	LockTTL = 10 * time.Minute
)

var (
	ErrInvalidPrompt  = fmt.Errorf("prompt must be between 1 and %d characters", MaxPromptLength)
	ErrNotFound       = errors.New("session not found")
	ErrStepNotFound   = errors.New("step not found")
	ErrSessionBusy    = errors.New("session is being processed")
	ErrLLMUnavailable = errors.New("OpenRouter API key not configured")
)

// Completer produces a model reply for a system and user message
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Publisher receives generated HTML for the live preview
type Publisher interface {
	Publish(ctx context.Context, sessionID, html string) (*storage.Preview, error)
}

// Service runs generation sessions
type Service struct {
	llm      Completer
	store    *storage.RedisStore
	previews Publisher
	logger   *logrus.Logger
	now      func() time.Time
}

// NewService creates a generation service. llm may be nil when no API key
// is configured; every model-backed operation then returns ErrLLMUnavailable.
func NewService(llm Completer, store *storage.RedisStore, previews Publisher, logger *logrus.Logger) *Service {
	return &Service{
		llm:      llm,
		store:    store,
		previews: previews,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether a model is configured
func (s *Service) Enabled() bool {
	return s.llm != nil
}

// ValidatePrompt checks prompt length after trimming
func ValidatePrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if n := utf8.RuneCountInString(prompt); n == 0 || n > MaxPromptLength {
		return "", ErrInvalidPrompt
	}
	return prompt, nil
}

// GeneratePlan asks the model for a development plan
func (s *Service) GeneratePlan(ctx context.Context, prompt string) (*storage.Plan, error) {
	prompt, err := ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}
	if s.llm == nil {
		return nil, ErrLLMUnavailable
	}

	start := time.Now()
	raw, err := s.llm.Complete(ctx, planSystemPrompt, planUserPrompt(prompt))
	metrics.ObserveLLM("plan", start)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	return parsePlan(raw), nil
}

// Execute creates a queued session for the worker and returns it
func (s *Service) Execute(ctx context.Context, prompt, projectID string) (*storage.Session, error) {
	prompt, err := ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}
	if s.llm == nil {
		return nil, ErrLLMUnavailable
	}

	now := s.now().UTC()
	session := &storage.Session{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Prompt:    prompt,
		Status:    storage.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	if err := s.store.EnqueueSession(ctx, session.ID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":    session.ID,
		"prompt_length": utf8.RuneCountInString(prompt),
	}).Info("Queued generation session")

	return session, nil
}

// Status returns the session or ErrNotFound
func (s *Service) Status(ctx context.Context, sessionID string) (*storage.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

// Run processes a queued session end to end: plan, then every step.
// Sessions that are no longer queued are left untouched.
func (s *Service) Run(ctx context.Context, sessionID string) error {
	release, err := s.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	session, err := s.Status(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != storage.StatusQueued {
		return nil
	}
	if s.llm == nil {
		return s.fail(ctx, session, ErrLLMUnavailable)
	}

	if err := s.ensurePlan(ctx, session); err != nil {
		return s.fail(ctx, session, err)
	}

	for _, step := range session.Plan.Steps {
		if err := s.runStep(ctx, session, step); err != nil {
			return s.fail(ctx, session, err)
		}
	}

	return s.complete(ctx, session)
}

// ExecuteStep runs one plan step synchronously. A session without a plan is
// planned first; an already completed step is returned unchanged.
func (s *Service) ExecuteStep(ctx context.Context, sessionID, stepID string) (*storage.Session, error) {
	if s.llm == nil {
		return nil, ErrLLMUnavailable
	}

	release, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.Status(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.ensurePlan(ctx, session); err != nil {
		return nil, s.fail(ctx, session, err)
	}

	var step *storage.PlanStep
	for i := range session.Plan.Steps {
		if session.Plan.Steps[i].ID == stepID {
			step = &session.Plan.Steps[i]
			break
		}
	}
	if step == nil {
		return nil, ErrStepNotFound
	}

	if result := session.Step(stepID); result != nil && result.Status == storage.StepCompleted {
		return session, nil
	}

	if err := s.runStep(ctx, session, *step); err != nil {
		return nil, s.fail(ctx, session, err)
	}

	if session.CompletedSteps() == len(session.Plan.Steps) {
		if err := s.complete(ctx, session); err != nil {
			return nil, err
		}
	}

	return session, nil
}

func (s *Service) lock(ctx context.Context, sessionID string) (func(), error) {
	token, ok, err := s.store.AcquireSessionLock(ctx, sessionID, LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionBusy
	}
	return func() {
		// Release even when ctx is already done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.ReleaseSessionLock(releaseCtx, sessionID, token); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to release session lock")
		}
	}, nil
}

func (s *Service) ensurePlan(ctx context.Context, session *storage.Session) error {
	if session.Plan != nil {
		return nil
	}

	if err := s.transition(ctx, session, storage.StatusPlanning); err != nil {
		return err
	}

	plan, err := s.GeneratePlan(ctx, session.Prompt)
	if err != nil {
		return err
	}

	session.Plan = plan
	session.Steps = make([]storage.StepResult, len(plan.Steps))
	for i, step := range plan.Steps {
		session.Steps[i] = storage.StepResult{StepID: step.ID, Status: storage.StepPending}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"steps":      len(plan.Steps),
	}).Info("Generated plan")

	return s.transition(ctx, session, storage.StatusGenerating)
}

func (s *Service) runStep(ctx context.Context, session *storage.Session, step storage.PlanStep) error {
	result := session.Step(step.ID)
	if result == nil {
		session.Steps = append(session.Steps, storage.StepResult{StepID: step.ID, Status: storage.StepPending})
		result = &session.Steps[len(session.Steps)-1]
	}
	if result.Status == storage.StepCompleted {
		return nil
	}

	start := time.Now()
	raw, err := s.llm.Complete(ctx, stepSystemPrompt, stepUserPrompt(session, step))
	metrics.ObserveLLM("step", start)
	if err != nil {
		result.Status = storage.StepFailed
		result.Error = err.Error()
		return fmt.Errorf("step %s failed: %w", step.ID, err)
	}

	html := extractHTML(raw)
	if html == "" {
		result.Status = storage.StepFailed
		result.Error = "model returned no code"
		return fmt.Errorf("step %s returned no code", step.ID)
	}

	now := s.now().UTC()
	session.HTML = html
	result.Status = storage.StepCompleted
	result.Error = ""
	result.CompletedAt = &now
	session.UpdatedAt = now

	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	if s.previews != nil {
		if _, err := s.previews.Publish(ctx, session.ID, html); err != nil {
			// Preview is best effort; the code is already saved
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to publish preview")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"step_id":    step.ID,
	}).Info("Executed step")

	return nil
}

func (s *Service) transition(ctx context.Context, session *storage.Session, status storage.SessionStatus) error {
	session.Status = status
	session.UpdatedAt = s.now().UTC()
	return s.store.SaveSession(ctx, session)
}

func (s *Service) complete(ctx context.Context, session *storage.Session) error {
	now := s.now().UTC()
	session.Status = storage.StatusCompleted
	session.Error = ""
	session.UpdatedAt = now
	session.CompletedAt = &now

	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	metrics.GenerationsTotal.WithLabelValues(string(storage.StatusCompleted)).Inc()
	s.logger.WithField("session_id", session.ID).Info("Generation completed")
	return nil
}

// fail records cause on the session and returns it
func (s *Service) fail(ctx context.Context, session *storage.Session, cause error) error {
	now := s.now().UTC()
	session.Status = storage.StatusFailed
	session.Error = cause.Error()
	session.UpdatedAt = now
	session.CompletedAt = &now

	// Persist with a fresh context so a cancelled run is still recorded
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.SaveSession(saveCtx, session); err != nil {
		s.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to record failed session")
	}

	metrics.GenerationsTotal.WithLabelValues(string(storage.StatusFailed)).Inc()
	s.logger.WithError(cause).WithField("session_id", session.ID).Error("Generation failed")

	return cause
}
