// Package pages renders the server-side HTML pages with gomponents.
package pages

import (
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

const (
	// StylesheetPath is where the embedded stylesheet is served
	StylesheetPath = "/static/app.css"
	// GeneratorPath is the destination of the landing call to action
	GeneratorPath = "/generator"
)

// document wraps body in the shared HTML shell. head carries extra <head> nodes.
func document(title string, head []g.Node, body ...g.Node) g.Node {
	return h.Doctype(
		h.HTML(
			h.Lang("en"),
			h.Head(
				h.Meta(h.Charset("utf-8")),
				h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")),
				h.TitleEl(g.Text(title)),
				h.Link(h.Rel("stylesheet"), h.Href(StylesheetPath)),
				g.Group(head),
			),
			h.Body(body...),
		),
	)
}

// shell is the centered container used by every page except the landing
func shell(children ...g.Node) g.Node {
	return h.Div(
		h.Class("min-h-screen bg-gradient-to-br from-blue-50 to-indigo-100"),
		h.Main(
			h.Class("container mx-auto px-4 py-16"),
			g.Group(children),
		),
	)
}

// previewFrame shows sanitized markup in a sandboxed iframe without script rights
func previewFrame(markup string) g.Node {
	return g.El("iframe",
		h.Class("preview-frame"),
		g.Attr("title", "Website preview"),
		g.Attr("sandbox", ""),
		g.Attr("srcdoc", markup),
	)
}
