package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// CSRF token length in bytes (32 bytes = 256 bits)
	csrfTokenLength = 32
	// CSRF token TTL (5 minutes)
	csrfTokenTTL = 5 * time.Minute
)

// CSRFTokenResponse represents a CSRF token generation response
type CSRFTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateCSRFToken handles CSRF token generation requests (GET /api/v1/csrf)
// Generates a cryptographically secure random token, stores it in Redis with 5min TTL
func (s *Server) GenerateCSRFToken(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := s.issueCSRFToken(r.Context())
	if err != nil {
		s.logError(r, err, "Failed to issue CSRF token")
		s.sendError(w, http.StatusInternalServerError, "Failed to generate CSRF token", "")
		return
	}

	s.sendJSON(w, http.StatusOK, CSRFTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// issueCSRFToken creates a one-time token and stores it in Redis
func (s *Server) issueCSRFToken(ctx context.Context) (string, time.Time, error) {
	tokenBytes := make([]byte, csrfTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	// Encode to base64 URL-safe format
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.store.StoreCSRFToken(ctx, token, csrfTokenTTL); err != nil {
		return "", time.Time{}, err
	}

	return token, time.Now().Add(csrfTokenTTL), nil
}

// consumeCSRFToken validates the format and consumes the token (one-time use).
// Malformed, unknown, expired and reused tokens all report false.
func (s *Server) consumeCSRFToken(ctx context.Context, token string) (bool, error) {
	if err := validateCSRFTokenFormat(token); err != nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return s.store.ValidateAndConsumeCSRFToken(ctx, token)
}

// validateCSRFTokenFormat rejects anything that could not have been issued
// by issueCSRFToken before it reaches Redis
func validateCSRFTokenFormat(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	if len(token) != base64.URLEncoding.EncodedLen(csrfTokenLength) {
		return fmt.Errorf("token must be %d characters", base64.URLEncoding.EncodedLen(csrfTokenLength))
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("token is not valid base64: %w", err)
	}
	if len(raw) != csrfTokenLength {
		return fmt.Errorf("token must decode to %d bytes", csrfTokenLength)
	}
	return nil
}
