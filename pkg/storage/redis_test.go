package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis server for testing
func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewRedisStoreWithClient(client, time.Hour), mr
}

func TestNewRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid connection",
			url:     "redis://" + mr.Addr(),
			wantErr: false,
		},
		{
			name:    "malformed URL",
			url:     "://nope",
			wantErr: true,
		},
		{
			name:    "unreachable server",
			url:     "redis://127.0.0.1:1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewRedisStore(tt.url, time.Hour)
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if store != nil {
				defer store.Close()
			}
		})
	}
}

func TestSaveAndGetSession(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	session := &Session{
		ID:        "session-1",
		Prompt:    "a bakery homepage",
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got == nil {
		t.Fatal("Expected session, got nil")
	}
	if got.Prompt != "a bakery homepage" || got.Status != StatusQueued {
		t.Errorf("Unexpected session: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("Expected created_at %v, got %v", now, got.CreatedAt)
	}

	if ttl := mr.TTL(sessionPrefix + "session-1"); ttl != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", ttl)
	}
}

func TestSaveSessionRequiresID(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	if err := store.SaveSession(context.Background(), &Session{}); err == nil {
		t.Error("Expected error for session without ID")
	}
}

func TestGetSessionMissing(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	got, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil session, got %+v", got)
	}
}

func TestCountSessionsPrunesExpired(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.SaveSession(ctx, &Session{ID: id, Status: StatusQueued}); err != nil {
			t.Fatalf("Failed to save session %s: %v", id, err)
		}
	}

	// Simulate expiry of one session key
	mr.Del(sessionPrefix + "a")

	counts, err := store.CountSessionsByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count sessions: %v", err)
	}
	if counts[StatusQueued] != 1 {
		t.Fatalf("Expected only session b, got %v", counts)
	}

	members, err := mr.Members(sessionIndexKey)
	if err != nil {
		t.Fatalf("Failed to read index: %v", err)
	}
	if len(members) != 1 || members[0] != "b" {
		t.Errorf("Expected expired session pruned from index, got %v", members)
	}
}

func TestCountSessionsByStatus(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	// More sessions than one pipeline batch
	total := sessionFetchBatch + 20
	for i := 0; i < total; i++ {
		status := StatusQueued
		if i%2 == 1 {
			status = StatusCompleted
		}
		if err := store.SaveSession(ctx, &Session{ID: fmt.Sprintf("s%d", i), Status: status}); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}
	}
	mr.Del(sessionPrefix + "s0")

	counts, err := store.CountSessionsByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count sessions: %v", err)
	}
	if counts[StatusQueued] != total/2-1 {
		t.Errorf("Expected %d queued sessions, got %d", total/2-1, counts[StatusQueued])
	}
	if counts[StatusCompleted] != total/2 {
		t.Errorf("Expected %d completed sessions, got %d", total/2, counts[StatusCompleted])
	}

	members, err := mr.Members(sessionIndexKey)
	if err != nil {
		t.Fatalf("Failed to read index: %v", err)
	}
	if len(members) != total-1 {
		t.Errorf("Expected expired session pruned, index has %d members", len(members))
	}
}

func TestQueueIsFIFO(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	for _, id := range []string{"first", "second"} {
		if err := store.EnqueueSession(ctx, id); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	n, err := store.QueueLength(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Expected queue length 2, got %d (err=%v)", n, err)
	}

	for _, want := range []string{"first", "second", ""} {
		got, err := store.DequeueSession(ctx)
		if err != nil {
			t.Fatalf("Failed to dequeue: %v", err)
		}
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

func TestSessionLock(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	token, ok, err := store.AcquireSessionLock(ctx, "s", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("Expected first acquire to succeed, ok=%v token=%q err=%v", ok, token, err)
	}

	_, ok, err = store.AcquireSessionLock(ctx, "s", time.Minute)
	if err != nil || ok {
		t.Fatalf("Expected second acquire to fail, ok=%v err=%v", ok, err)
	}

	if err := store.ReleaseSessionLock(ctx, "s", token); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	_, ok, err = store.AcquireSessionLock(ctx, "s", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected acquire after release to succeed, ok=%v err=%v", ok, err)
	}

	// Lock expires on its own
	mr.FastForward(2 * time.Minute)
	_, ok, err = store.AcquireSessionLock(ctx, "s", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected acquire after expiry to succeed, ok=%v err=%v", ok, err)
	}
}

func TestReleaseSessionLockKeepsNewOwner(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	stale, ok, err := store.AcquireSessionLock(ctx, "s", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Failed to acquire lock: ok=%v err=%v", ok, err)
	}

	// First holder overruns its TTL and a second holder takes over
	mr.FastForward(2 * time.Minute)
	current, ok, err := store.AcquireSessionLock(ctx, "s", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Failed to acquire expired lock: ok=%v err=%v", ok, err)
	}

	if err := store.ReleaseSessionLock(ctx, "s", stale); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	owner, err := mr.Get("generation:lock:s")
	if err != nil {
		t.Fatalf("Lock was deleted by its previous owner: %v", err)
	}
	if owner != current {
		t.Errorf("Expected lock owner %q, got %q", current, owner)
	}

	if err := store.ReleaseSessionLock(ctx, "s", current); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if mr.Exists("generation:lock:s") {
		t.Error("Expected lock to be released by its owner")
	}
}

func TestSaveAndGetPreview(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	got, err := store.GetPreview(ctx, "s")
	if err != nil || got != nil {
		t.Fatalf("Expected no preview, got %+v (err=%v)", got, err)
	}

	preview := &Preview{SessionID: "s", HTML: "<p>hi</p>", Version: 3, UpdatedAt: time.Now()}
	if err := store.SavePreview(ctx, preview); err != nil {
		t.Fatalf("Failed to save preview: %v", err)
	}

	got, err = store.GetPreview(ctx, "s")
	if err != nil {
		t.Fatalf("Failed to get preview: %v", err)
	}
	if got.HTML != "<p>hi</p>" || got.Version != 3 {
		t.Errorf("Unexpected preview: %+v", got)
	}
}

func TestSavePreviewKeepsNewerVersion(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	if err := store.SavePreview(ctx, &Preview{SessionID: "s", HTML: "<p>new</p>", Version: 5}); err != nil {
		t.Fatalf("Failed to save preview: %v", err)
	}
	if err := store.SavePreview(ctx, &Preview{SessionID: "s", HTML: "<p>old</p>", Version: 4}); err != nil {
		t.Fatalf("Failed to save preview: %v", err)
	}

	got, err := store.GetPreview(ctx, "s")
	if err != nil {
		t.Fatalf("Failed to get preview: %v", err)
	}
	if got.Version != 5 || got.HTML != "<p>new</p>" {
		t.Errorf("Expected version 5 to survive, got %+v", got)
	}

	if ttl := mr.TTL("preview:s"); ttl <= 0 {
		t.Errorf("Expected preview TTL, got %v", ttl)
	}
}

func TestNextPreviewVersion(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.NextPreviewVersion(ctx, "s")
		if err != nil {
			t.Fatalf("Failed to allocate version: %v", err)
		}
		if got != want {
			t.Errorf("Expected version %d, got %d", want, got)
		}
	}

	if ttl := mr.TTL("preview_version:s"); ttl <= 0 {
		t.Errorf("Expected version counter TTL, got %v", ttl)
	}

	// Sessions count independently
	got, err := store.NextPreviewVersion(ctx, "other")
	if err != nil || got != 1 {
		t.Errorf("Expected version 1 for a new session, got %d (err=%v)", got, err)
	}
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	if err := store.StoreCSRFToken(ctx, "tok", 5*time.Minute); err != nil {
		t.Fatalf("Failed to store token: %v", err)
	}

	valid, err := store.ValidateAndConsumeCSRFToken(ctx, "tok")
	if err != nil || !valid {
		t.Fatalf("Expected first use valid, got %v (err=%v)", valid, err)
	}

	valid, err = store.ValidateAndConsumeCSRFToken(ctx, "tok")
	if err != nil || valid {
		t.Fatalf("Expected second use invalid, got %v (err=%v)", valid, err)
	}

	valid, err = store.ValidateAndConsumeCSRFToken(ctx, "")
	if err != nil || valid {
		t.Errorf("Expected empty token invalid, got %v (err=%v)", valid, err)
	}
}

func TestCSRFTokenExpires(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	if err := store.StoreCSRFToken(ctx, "tok", 2*time.Second); err != nil {
		t.Fatalf("Failed to store token: %v", err)
	}

	mr.FastForward(3 * time.Second)

	valid, err := store.ValidateAndConsumeCSRFToken(ctx, "tok")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if valid {
		t.Error("Expected expired token to be invalid")
	}
}

func TestSessionHelpers(t *testing.T) {
	session := &Session{
		Steps: []StepResult{
			{StepID: "one", Status: StepCompleted},
			{StepID: "two", Status: StepPending},
		},
	}

	if session.CompletedSteps() != 1 {
		t.Errorf("Expected 1 completed step, got %d", session.CompletedSteps())
	}
	if step := session.Step("two"); step == nil || step.Status != StepPending {
		t.Errorf("Expected pending step two, got %+v", step)
	}
	if session.Step("three") != nil {
		t.Error("Expected nil for unknown step")
	}
	if !StatusFailed.Terminal() || StatusGenerating.Terminal() {
		t.Error("Unexpected terminal classification")
	}
}

func TestHealth(t *testing.T) {
	store, mr := setupTestRedis(t)

	if err := store.Health(context.Background()); err != nil {
		t.Fatalf("Expected healthy store: %v", err)
	}

	mr.Close()

	if err := store.Health(context.Background()); err == nil {
		t.Error("Expected health check to fail after server shutdown")
	}
}
