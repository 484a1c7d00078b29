package pages

import (
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

// Card is one feature highlight on the landing page
type Card struct {
	Title       string
	Description string
}

// landingCards are shown in this order
var landingCards = []Card{
	{
		Title:       "AI-Powered",
		Description: "Uses advanced AI models to understand your requirements and generate code",
	},
	{
		Title:       "Real-time Preview",
		Description: "See your website come to life with live preview as the AI generates code",
	},
	{
		Title:       "No Authentication",
		Description: "Start building immediately - just add your OpenRouter API key and begin",
	},
}

// LandingCards returns a copy of the landing page feature cards
func LandingCards() []Card {
	return append([]Card(nil), landingCards...)
}

const (
	landingTitle    = "OpenV0"
	landingSubtitle = "Transform your ideas into fully functional websites with the power of AI"
	landingCTA      = "Start Building"
	landingTagline  = "Powered by OpenRouter & DeepSeek"
)

// Landing renders the static home page. It depends on nothing but constants,
// so every render produces the same bytes.
func Landing() g.Node {
	return document(landingTitle, nil,
		h.Div(
			h.Class("min-h-screen bg-gradient-to-br from-blue-50 to-indigo-100"),
			h.Div(
				h.Class("container mx-auto px-4 py-16"),
				h.Div(
					h.Class("text-center"),
					h.H1(h.Class("text-6xl font-bold text-gray-900 mb-6"), g.Text(landingTitle)),
					h.P(h.Class("text-xl text-gray-600 mb-8 max-w-2xl mx-auto"), g.Text(landingSubtitle)),
					h.Div(
						h.Class("space-y-4"),
						h.A(h.Href(GeneratorPath), h.Class("btn-primary text-lg px-8 py-3"), g.Text(landingCTA)),
						h.Div(h.Class("text-sm text-gray-500"), g.Text(landingTagline)),
					),
				),
				h.Div(
					h.Class("mt-16 grid md:grid-cols-3 gap-8"),
					g.Map(landingCards, card),
				),
			),
		),
	)
}

func card(c Card) g.Node {
	return h.Div(
		h.Class("card"),
		h.Div(
			h.Class("card-header"),
			h.H3(h.Class("card-title"), g.Text(c.Title)),
			h.P(h.Class("card-description"), g.Text(c.Description)),
		),
	)
}
