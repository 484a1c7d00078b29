package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/openv0/openv0/pkg/logging"
	"github.com/openv0/openv0/pkg/preview"
	"github.com/openv0/openv0/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlan = `{"title":"Bakery","description":"A bakery site","steps":[{"id":"hero","title":"Hero","description":"Big banner"},{"id":"menu","title":"Menu","description":"List breads"}]}`

// fakeCompleter answers plan requests with plan and step requests with
// a numbered html block.
type fakeCompleter struct {
	mu       sync.Mutex
	plan     string
	stepErr  error
	planErr  error
	calls    []string
	stepHTML func(n int) string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if system == planSystemPrompt {
		f.calls = append(f.calls, "plan")
		if f.planErr != nil {
			return "", f.planErr
		}
		return f.plan, nil
	}

	f.calls = append(f.calls, "step")
	if f.stepErr != nil {
		return "", f.stepErr
	}
	n := 0
	for _, c := range f.calls {
		if c == "step" {
			n++
		}
	}
	if f.stepHTML != nil {
		return f.stepHTML(n), nil
	}
	return "```html\n<section class=\"s\">step " + string(rune('0'+n)) + "</section><script>x()</script>\n```", nil
}

func (f *fakeCompleter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func setupTestService(t *testing.T, llm Completer) (*Service, *storage.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := storage.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	svc := NewService(llm, store, preview.NewService(store), logging.Discard())

	return svc, store, mr
}

func TestValidatePrompt(t *testing.T) {
	got, err := ValidatePrompt("  a landing page  ")
	require.NoError(t, err)
	assert.Equal(t, "a landing page", got)

	_, err = ValidatePrompt("   ")
	assert.ErrorIs(t, err, ErrInvalidPrompt)

	_, err = ValidatePrompt(strings.Repeat("é", MaxPromptLength+1))
	assert.ErrorIs(t, err, ErrInvalidPrompt)

	_, err = ValidatePrompt(strings.Repeat("é", MaxPromptLength))
	assert.NoError(t, err)
}

func TestGeneratePlan(t *testing.T) {
	svc, _, _ := setupTestService(t, &fakeCompleter{plan: testPlan})

	plan, err := svc.GeneratePlan(context.Background(), "a bakery")
	require.NoError(t, err)
	assert.Equal(t, "Bakery", plan.Title)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "hero", plan.Steps[0].ID)
}

func TestGeneratePlanErrors(t *testing.T) {
	t.Run("no model", func(t *testing.T) {
		svc, _, _ := setupTestService(t, nil)
		assert.False(t, svc.Enabled())
		_, err := svc.GeneratePlan(context.Background(), "a bakery")
		assert.ErrorIs(t, err, ErrLLMUnavailable)
	})

	t.Run("invalid prompt", func(t *testing.T) {
		svc, _, _ := setupTestService(t, &fakeCompleter{plan: testPlan})
		_, err := svc.GeneratePlan(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidPrompt)
	})

	t.Run("model error", func(t *testing.T) {
		boom := errors.New("upstream down")
		svc, _, _ := setupTestService(t, &fakeCompleter{planErr: boom})
		_, err := svc.GeneratePlan(context.Background(), "a bakery")
		assert.ErrorIs(t, err, boom)
	})
}

func TestExecuteQueuesSession(t *testing.T) {
	svc, store, _ := setupTestService(t, &fakeCompleter{plan: testPlan})
	ctx := context.Background()

	session, err := svc.Execute(ctx, " a bakery ", "project-1")
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, storage.StatusQueued, session.Status)
	assert.Equal(t, "a bakery", session.Prompt)
	assert.Equal(t, "project-1", session.ProjectID)

	id, err := store.DequeueSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ID, id)

	stored, err := svc.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusQueued, stored.Status)
}

func TestExecuteWithoutModel(t *testing.T) {
	svc, store, _ := setupTestService(t, nil)

	_, err := svc.Execute(context.Background(), "a bakery", "")
	assert.ErrorIs(t, err, ErrLLMUnavailable)

	n, err := store.QueueLength(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusNotFound(t *testing.T) {
	svc, _, _ := setupTestService(t, &fakeCompleter{})
	_, err := svc.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunCompletesSession(t *testing.T) {
	llm := &fakeCompleter{plan: testPlan}
	svc, store, _ := setupTestService(t, llm)
	ctx := context.Background()

	session, err := svc.Execute(ctx, "a bakery", "")
	require.NoError(t, err)

	require.NoError(t, svc.Run(ctx, session.ID))

	done, err := svc.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, done.Status)
	require.NotNil(t, done.Plan)
	assert.Equal(t, 2, done.CompletedSteps())
	assert.NotNil(t, done.CompletedAt)
	assert.Contains(t, done.HTML, "step 2")
	assert.Equal(t, []string{"plan", "step", "step"}, llm.Calls())

	p, err := store.GetPreview(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Version)
	assert.Contains(t, p.HTML, `<section class="s">step 2</section>`)
	assert.NotContains(t, p.HTML, "script")

	// Lock is released after the run
	_, ok, err := store.AcquireSessionLock(ctx, session.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunSkipsNonQueuedSession(t *testing.T) {
	llm := &fakeCompleter{plan: testPlan}
	svc, store, _ := setupTestService(t, llm)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, &storage.Session{ID: "done", Status: storage.StatusCompleted}))

	require.NoError(t, svc.Run(ctx, "done"))
	assert.Empty(t, llm.Calls())
}

func TestRunMissingSession(t *testing.T) {
	svc, _, _ := setupTestService(t, &fakeCompleter{plan: testPlan})
	assert.ErrorIs(t, svc.Run(context.Background(), "ghost"), ErrNotFound)
}

func TestRunMarksFailure(t *testing.T) {
	boom := errors.New("model overloaded")
	svc, _, _ := setupTestService(t, &fakeCompleter{plan: testPlan, stepErr: boom})
	ctx := context.Background()

	session, err := svc.Execute(ctx, "a bakery", "")
	require.NoError(t, err)

	err = svc.Run(ctx, session.ID)
	assert.ErrorIs(t, err, boom)

	failed, err := svc.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "model overloaded")
	assert.Equal(t, storage.StepFailed, failed.Steps[0].Status)
	assert.Equal(t, storage.StepPending, failed.Steps[1].Status)
}

func TestRunBusySession(t *testing.T) {
	svc, store, _ := setupTestService(t, &fakeCompleter{plan: testPlan})
	ctx := context.Background()

	session, err := svc.Execute(ctx, "a bakery", "")
	require.NoError(t, err)

	_, ok, err := store.AcquireSessionLock(ctx, session.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, svc.Run(ctx, session.ID), ErrSessionBusy)
}

func TestExecuteStep(t *testing.T) {
	llm := &fakeCompleter{plan: testPlan}
	svc, _, _ := setupTestService(t, llm)
	ctx := context.Background()

	session, err := svc.Execute(ctx, "a bakery", "")
	require.NoError(t, err)

	got, err := svc.ExecuteStep(ctx, session.ID, "hero")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusGenerating, got.Status)
	assert.Equal(t, storage.StepCompleted, got.Step("hero").Status)
	assert.Equal(t, storage.StepPending, got.Step("menu").Status)

	// Repeating a completed step does not call the model again
	_, err = svc.ExecuteStep(ctx, session.ID, "hero")
	require.NoError(t, err)
	assert.Equal(t, []string{"plan", "step"}, llm.Calls())

	got, err = svc.ExecuteStep(ctx, session.ID, "menu")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)

	_, err = svc.ExecuteStep(ctx, session.ID, "footer")
	assert.ErrorIs(t, err, ErrStepNotFound)

	_, err = svc.ExecuteStep(ctx, "ghost", "hero")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteStepNoCode(t *testing.T) {
	llm := &fakeCompleter{plan: testPlan, stepHTML: func(int) string { return "```html\n```" }}
	svc, _, _ := setupTestService(t, llm)
	ctx := context.Background()

	session, err := svc.Execute(ctx, "a bakery", "")
	require.NoError(t, err)

	_, err = svc.ExecuteStep(ctx, session.ID, "hero")
	require.Error(t, err)

	failed, err := svc.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, failed.Status)
	assert.Equal(t, "model returned no code", failed.Step("hero").Error)
}
