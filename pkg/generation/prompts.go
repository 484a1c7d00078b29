package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openv0/openv0/pkg/storage"
)

const (
	// MaxPlanSteps caps the number of steps accepted from the model
	MaxPlanSteps = 8

	fallbackStepID    = "build"
	fallbackStepTitle = "Build website"
)

const planSystemPrompt = `You are a senior web developer planning a single-page website.
Reply with JSON only, no prose, using this shape:
{"title": string, "description": string, "steps": [{"id": string, "title": string, "description": string}]}
Use at most 8 short, ordered steps. Step ids are lowercase kebab-case.`

const stepSystemPrompt = `You are a senior web developer building a single-page website step by step.
Return the complete, updated HTML document in one html code block.
Use semantic HTML and class names; do not use external scripts.`

func planUserPrompt(prompt string) string {
	return "Website request:\n" + prompt
}

func stepUserPrompt(session *storage.Session, step storage.PlanStep) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Website request:\n%s\n\n", session.Prompt)
	if session.Plan != nil {
		fmt.Fprintf(&b, "Plan: %s\n", session.Plan.Title)
		for i, s := range session.Plan.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current step: %s\n%s\n\n", step.Title, step.Description)

	if session.HTML == "" {
		b.WriteString("There is no code yet, start a new document.")
	} else {
		b.WriteString("Current document:\n```html\n")
		b.WriteString(session.HTML)
		b.WriteString("\n```")
	}

	return b.String()
}

// parsePlan decodes the model's plan. Output that is not a usable JSON plan
// becomes a single step carrying the raw text.
func parsePlan(raw string) *storage.Plan {
	body := stripFence(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var plan storage.Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil || len(plan.Steps) == 0 {
		return fallbackPlan(raw)
	}

	if len(plan.Steps) > MaxPlanSteps {
		plan.Steps = plan.Steps[:MaxPlanSteps]
	}

	seen := make(map[string]bool, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		step.ID = strings.TrimSpace(step.ID)
		if step.ID == "" || seen[step.ID] {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		seen[step.ID] = true
		if strings.TrimSpace(step.Title) == "" {
			step.Title = fmt.Sprintf("Step %d", i+1)
		}
	}

	if strings.TrimSpace(plan.Title) == "" {
		plan.Title = "Website"
	}

	return &plan
}

func fallbackPlan(raw string) *storage.Plan {
	return &storage.Plan{
		Title: "Website",
		Steps: []storage.PlanStep{
			{ID: fallbackStepID, Title: fallbackStepTitle, Description: strings.TrimSpace(raw)},
		},
	}
}

// extractHTML returns the first ```html block, else the first fenced block,
// else the trimmed reply.
func extractHTML(raw string) string {
	if code, ok := fencedBlock(raw, "```html"); ok {
		return code
	}
	if code, ok := fencedBlock(raw, "```"); ok {
		return code
	}
	return strings.TrimSpace(raw)
}

func stripFence(raw string) string {
	if code, ok := fencedBlock(raw, "```"); ok {
		return code
	}
	return strings.TrimSpace(raw)
}

func fencedBlock(raw, opener string) (string, bool) {
	start := strings.Index(raw, opener)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(opener):]

	// Skip the language tag on the opening line
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return "", false
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}
