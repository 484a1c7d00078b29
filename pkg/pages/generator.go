package pages

import (
	"strconv"

	"github.com/openv0/openv0/pkg/storage"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

// GeneratorForm is the state of the prompt form
type GeneratorForm struct {
	CSRFToken string
	Prompt    string
	Error     string
	Enabled   bool // false when no model API key is configured
	MaxLength int
}

// Generator renders the prompt form
func Generator(form GeneratorForm) g.Node {
	return document("Generator · OpenV0", nil,
		shell(
			h.H1(h.Class("text-4xl font-bold text-gray-900 mb-6"), g.Text("Describe your website")),
			g.If(!form.Enabled,
				h.P(h.Class("notice"), g.Text("Generation is disabled until OPENROUTER_API_KEY is configured on the server.")),
			),
			g.If(form.Error != "",
				h.P(h.Class("form-error"), g.Attr("role", "alert"), g.Text(form.Error)),
			),
			g.El("form",
				h.Class("card"),
				h.Method("post"),
				h.Action(GeneratorPath),
				h.Input(h.Type("hidden"), h.Name("csrf_token"), h.Value(form.CSRFToken)),
				h.Textarea(
					h.Class("prompt-input"),
					h.Name("prompt"),
					g.Attr("rows", "8"),
					g.Attr("maxlength", strconv.Itoa(form.MaxLength)),
					g.Attr("aria-label", "Website description"),
					h.Placeholder("A landing page for a neighbourhood bakery with a menu and opening hours"),
					h.Required(),
					g.Text(form.Prompt),
				),
				h.Button(
					h.Class("btn-primary mt-4"),
					h.Type("submit"),
					g.If(!form.Enabled, h.Disabled()),
					g.Text("Generate"),
				),
			),
		),
	)
}

// SessionView is what the status page shows for one generation session
type SessionView struct {
	Session  *storage.Session
	Preview  *storage.Preview
	ShareURL string
}

// Session renders the progress of a generation session. Unfinished sessions
// reload themselves every few seconds.
func Session(v SessionView) g.Node {
	s := v.Session

	var head []g.Node
	if !s.Status.Terminal() {
		head = append(head, h.Meta(g.Attr("http-equiv", "refresh"), h.Content("3")))
	}

	return document("Generation · OpenV0", head,
		shell(
			h.H1(h.Class("text-4xl font-bold text-gray-900 mb-6"), g.Text("Your website")),
			h.P(h.Class("text-gray-600 mb-4"), g.Text(s.Prompt)),
			h.P(
				h.Class("mb-4"),
				g.Text("Status: "),
				h.Span(h.Class("status status-"+string(s.Status)), g.Text(string(s.Status))),
			),
			g.If(s.Error != "", h.P(h.Class("form-error"), g.Attr("role", "alert"), g.Text(s.Error))),
			g.Iff(s.Plan != nil, func() g.Node { return planList(s) }),
			g.Iff(v.Preview != nil, func() g.Node { return previewSection(v.Preview) }),
			g.If(v.ShareURL != "", h.P(h.Class("mt-4"), h.A(h.Href(v.ShareURL), g.Text("Share this preview")))),
			h.P(h.Class("mt-8"), h.A(h.Href(GeneratorPath), g.Text("Start another website"))),
		),
	)
}

func planList(s *storage.Session) g.Node {
	return h.Section(
		h.Class("card mb-8"),
		h.H2(h.Class("card-title"), g.Text(s.Plan.Title)),
		g.If(s.Plan.Description != "", h.P(h.Class("card-description"), g.Text(s.Plan.Description))),
		h.P(h.Class("text-sm text-gray-500"), g.Textf("%d of %d steps complete", s.CompletedSteps(), len(s.Plan.Steps))),
		h.Ol(
			h.Class("steps"),
			g.Map(s.Plan.Steps, func(step storage.PlanStep) g.Node {
				status := storage.StepPending
				if r := s.Step(step.ID); r != nil {
					status = r.Status
				}
				return h.Li(
					h.Class("step step-"+string(status)),
					h.Span(h.Class("step-title"), g.Text(step.Title)),
					g.If(step.Description != "", h.P(h.Class("step-description"), g.Text(step.Description))),
				)
			}),
		),
	)
}

func previewSection(p *storage.Preview) g.Node {
	return h.Section(
		h.Class("preview"),
		h.H2(h.Class("card-title"), g.Textf("Preview (version %d)", p.Version)),
		previewFrame(p.HTML),
	)
}

// Shared renders a preview opened through a share link
func Shared(p *storage.Preview) g.Node {
	return document("Shared preview · OpenV0", nil,
		shell(
			h.H1(h.Class("text-4xl font-bold text-gray-900 mb-6"), g.Text("Shared preview")),
			previewFrame(p.HTML),
			h.P(h.Class("mt-8 text-sm text-gray-500"), g.Text("Built with OpenV0")),
		),
	)
}

// NotFound renders the 404 page
func NotFound(message string) g.Node {
	return Problem("Not found", message)
}

// Problem renders a page explaining why a request could not be served
func Problem(heading, message string) g.Node {
	return document(heading+" · OpenV0", nil,
		shell(
			h.H1(h.Class("text-4xl font-bold text-gray-900 mb-6"), g.Text(heading)),
			h.P(h.Class("text-gray-600 mb-8"), g.Text(message)),
			h.A(h.Href("/"), h.Class("btn-primary"), g.Text("Back to home")),
		),
	)
}
