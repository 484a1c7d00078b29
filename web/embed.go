// Package web provides the embedded static assets served under /static/.
package web

import "embed"

// StaticFiles holds the stylesheet that defines the classes used by the pages.
// The embed directive embeds the entire static/ directory.
//
//go:embed static
var StaticFiles embed.FS
