package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestGenerateCSRFToken tests the CSRF token generation endpoint
func TestGenerateCSRFToken(t *testing.T) {
	server, mr := setupTestServer(t)
	defer mr.Close()

	w := doRequest(t, server, "GET", "/api/v1/csrf", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	// Parse response
	var resp CSRFTokenResponse
	decode(t, w, &resp)

	// Verify token is not empty and well formed
	if resp.Token == "" {
		t.Fatal("Token should not be empty")
	}
	if err := validateCSRFTokenFormat(resp.Token); err != nil {
		t.Errorf("Issued token should pass format validation: %v", err)
	}

	// Verify expiry is set (approximately 5 minutes from now)
	expectedExpiry := time.Now().Add(csrfTokenTTL)
	timeDiff := expectedExpiry.Sub(resp.ExpiresAt).Abs()
	if timeDiff > 5*time.Second {
		t.Errorf("Expiry time mismatch: expected ~%v, got %v (diff: %v)",
			expectedExpiry, resp.ExpiresAt, timeDiff)
	}

	// Verify token exists and can be consumed from Redis (one-time use)
	valid, err := server.consumeCSRFToken(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("Failed to validate and consume token: %v", err)
	}
	if !valid {
		t.Error("Generated token should be valid and consumable")
	}
}

// TestGenerateCSRFToken_Uniqueness tests that generated tokens are unique
func TestGenerateCSRFToken_Uniqueness(t *testing.T) {
	server, mr := setupTestServer(t)
	defer mr.Close()

	// Generate multiple tokens
	tokens := make(map[string]bool)
	numTokens := 100

	for i := 0; i < numTokens; i++ {
		req := httptest.NewRequest("GET", "/api/v1/csrf", nil)
		w := httptest.NewRecorder()

		server.GenerateCSRFToken(w, req)

		var resp CSRFTokenResponse
		decode(t, w, &resp)

		if tokens[resp.Token] {
			t.Errorf("Duplicate token generated: %s", resp.Token)
		}
		tokens[resp.Token] = true
	}

	if len(tokens) != numTokens {
		t.Errorf("Expected %d unique tokens, got %d", numTokens, len(tokens))
	}
}

// TestConsumeCSRFToken_OneTimeUse tests that tokens can only be used once
func TestConsumeCSRFToken_OneTimeUse(t *testing.T) {
	server, mr := setupTestServer(t)
	defer mr.Close()

	ctx := context.Background()

	token, _, err := server.issueCSRFToken(ctx)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	// First validation should succeed
	valid, err := server.consumeCSRFToken(ctx, token)
	if err != nil {
		t.Fatalf("Failed to consume token: %v", err)
	}
	if !valid {
		t.Error("First validation should be valid")
	}

	// Second validation should fail (token consumed)
	valid, err = server.consumeCSRFToken(ctx, token)
	if err != nil {
		t.Fatalf("Failed to consume token: %v", err)
	}
	if valid {
		t.Error("Second validation should be invalid (one-time use)")
	}
}

// TestConsumeCSRFToken_ExpiredToken tests validation of expired tokens
func TestConsumeCSRFToken_ExpiredToken(t *testing.T) {
	server, mr := setupTestServer(t)
	defer mr.Close()

	ctx := context.Background()

	token, _, err := server.issueCSRFToken(ctx)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	// Fast-forward time in miniredis past the token TTL
	mr.FastForward(csrfTokenTTL + time.Second)

	valid, err := server.consumeCSRFToken(ctx, token)
	if err != nil {
		t.Fatalf("Failed to consume token: %v", err)
	}
	if valid {
		t.Error("Expired token should be invalid")
	}
}

// TestConsumeCSRFToken_Malformed tests that malformed tokens never reach Redis
func TestConsumeCSRFToken_Malformed(t *testing.T) {
	server, mr := setupTestServer(t)
	defer mr.Close()

	ctx := context.Background()

	// Store a token that was not issued by the server
	forged := "not-a-real-token"
	if err := server.store.StoreCSRFToken(ctx, forged, time.Minute); err != nil {
		t.Fatalf("Failed to store token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "short", token: forged},
		{name: "wrong alphabet", token: strings.Repeat("!", 44)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateCSRFTokenFormat(tt.token); err == nil {
				t.Error("Expected format error")
			}

			valid, err := server.consumeCSRFToken(ctx, tt.token)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if valid {
				t.Error("Malformed token should be invalid")
			}
		})
	}

	// The forged token is still in Redis since it never passed the format check
	if !mr.Exists("csrf:token:" + forged) {
		t.Error("Malformed token should not be consumed")
	}
}
