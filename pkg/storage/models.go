package storage

import "time"

// DefaultSessionTTL applies when the store is created without a TTL
const DefaultSessionTTL = 24 * time.Hour

// SessionStatus is the lifecycle state of a generation session
type SessionStatus string

const (
	StatusQueued     SessionStatus = "queued"
	StatusPlanning   SessionStatus = "planning"
	StatusGenerating SessionStatus = "generating"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// AllStatuses lists every session status in lifecycle order
var AllStatuses = []SessionStatus{StatusQueued, StatusPlanning, StatusGenerating, StatusCompleted, StatusFailed}

// Terminal reports whether no further transitions happen
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepStatus is the state of one plan step inside a session
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PlanStep is one unit of work in a development plan
type PlanStep struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Plan is the development plan the model produces for a prompt
type Plan struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Steps       []PlanStep `json:"steps"`
}

// StepResult tracks execution of a plan step
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Session is one website generation run
type Session struct {
	ID          string        `json:"session_id"`
	ProjectID   string        `json:"project_id,omitempty"`
	Prompt      string        `json:"prompt"`
	Status      SessionStatus `json:"status"`
	Plan        *Plan         `json:"plan,omitempty"`
	Steps       []StepResult  `json:"steps,omitempty"`
	HTML        string        `json:"html,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Step returns the result entry for stepID, or nil
func (s *Session) Step(stepID string) *StepResult {
	for i := range s.Steps {
		if s.Steps[i].StepID == stepID {
			return &s.Steps[i]
		}
	}
	return nil
}

// CompletedSteps counts finished steps
func (s *Session) CompletedSteps() int {
	n := 0
	for _, step := range s.Steps {
		if step.Status == StepCompleted {
			n++
		}
	}
	return n
}

// Preview is the sanitized live preview of a session's website
type Preview struct {
	SessionID string    `json:"session_id"`
	HTML      string    `json:"html"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
