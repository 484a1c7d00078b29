// Package preview maintains the sanitized live preview of generated websites.
package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/openv0/openv0/pkg/storage"
)

// ErrNotFound is returned when neither a preview nor generated code exists
var ErrNotFound = errors.New("preview not found")

// Store is the persistence the preview service needs
type Store interface {
	GetPreview(ctx context.Context, sessionID string) (*storage.Preview, error)
	SavePreview(ctx context.Context, preview *storage.Preview) error
	NextPreviewVersion(ctx context.Context, sessionID string) (int, error)
	GetSession(ctx context.Context, sessionID string) (*storage.Session, error)
}

// Service sanitizes and versions previews
type Service struct {
	store  Store
	policy *bluemonday.Policy
	now    func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store:  store,
		policy: NewPolicy(),
		now:    time.Now,
	}
}

// previewStyles are the inline CSS properties kept on generated markup.
// Values go through bluemonday's per-property handlers, so url() only
// survives for http(s) images.
var previewStyles = []string{
	"color", "background", "background-color",
	"margin", "padding", "border", "border-radius",
	"display", "flex", "flex-direction", "justify-content", "align-items", "grid-template-columns",
	"width", "max-width", "height",
	"font-family", "font-size", "font-weight", "line-height", "text-align",
}

// NewPolicy allows page structure, styling classes and inline styles.
// Scripts, event handler attributes, iframes and <style> blocks are dropped.
func NewPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowStyles(previewStyles...).Globally()
	p.AllowElements("header", "footer", "nav", "main", "section", "article", "aside", "figure", "figcaption", "button", "label")
	p.AllowAttrs("type").OnElements("button")
	p.AllowAttrs("for").OnElements("label")
	return p
}

// Sanitize applies the preview policy to generated markup
func (s *Service) Sanitize(html string) string {
	return strings.TrimSpace(s.policy.Sanitize(html))
}

// Publish sanitizes html and stores it as the next preview version
func (s *Service) Publish(ctx context.Context, sessionID, html string) (*storage.Preview, error) {
	if sessionID == "" {
		return nil, errors.New("session ID is required")
	}

	version, err := s.store.NextPreviewVersion(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	p := &storage.Preview{
		SessionID: sessionID,
		HTML:      s.Sanitize(html),
		Version:   version,
		UpdatedAt: s.now().UTC(),
	}

	if err := s.store.SavePreview(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save preview: %w", err)
	}

	return p, nil
}

// Get returns the current preview of a session
func (s *Service) Get(ctx context.Context, sessionID string) (*storage.Preview, error) {
	p, err := s.store.GetPreview(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// Refresh rebuilds the preview from the session's latest generated code,
// falling back to re-publishing the stored preview.
func (s *Service) Refresh(ctx context.Context, sessionID string) (*storage.Preview, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil && session.HTML != "" {
		return s.Publish(ctx, sessionID, session.HTML)
	}

	current, err := s.store.GetPreview(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	return s.Publish(ctx, sessionID, current.HTML)
}
