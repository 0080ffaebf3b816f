package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/glintworks/atelier/internal/config"
	"github.com/glintworks/atelier/internal/generation"
	"github.com/glintworks/atelier/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockLifecycle struct {
	mu        sync.Mutex
	creations map[uuid.UUID]*models.Creation
	refunds   map[uuid.UUID]int
	failErr   error
}

func newMockLifecycle(cs ...*models.Creation) *mockLifecycle {
	m := &mockLifecycle{
		creations: make(map[uuid.UUID]*models.Creation),
		refunds:   make(map[uuid.UUID]int),
	}
	for _, c := range cs {
		cp := *c
		m.creations[c.ID] = &cp
	}
	return m
}

func (m *mockLifecycle) Lookup(_ context.Context, id uuid.UUID) (*models.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creations[id]
	if !ok {
		return nil, fmt.Errorf("creation %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockLifecycle) MarkProcessing(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creations[id]; ok && c.Status == models.CreationStatusPending {
		c.Status = models.CreationStatusProcessing
	}
	return nil
}

func (m *mockLifecycle) CompleteWithMedia(_ context.Context, id uuid.UUID, mediaRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creations[id]
	if !ok {
		return fmt.Errorf("creation %s not found", id)
	}
	if c.IsTerminal() {
		return nil
	}
	c.Status = models.CreationStatusDraft
	c.MediaRef = &mediaRef
	return nil
}

func (m *mockLifecycle) FailAndRefund(_ context.Context, id uuid.UUID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	c, ok := m.creations[id]
	if !ok {
		return fmt.Errorf("creation %s not found", id)
	}
	if c.Status == models.CreationStatusDraft || c.Status == models.CreationStatusPublished {
		return nil
	}
	c.Status = models.CreationStatusFailed
	c.Error = &errorMessage
	if !c.Refunded {
		c.Refunded = true
		m.refunds[id]++
	}
	return nil
}

func (m *mockLifecycle) get(id uuid.UUID) *models.Creation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creations[id]
}

type mockProvider struct {
	media *generation.Media
	err   error
	calls int
}

func (m *mockProvider) Generate(context.Context, generation.Request) (*generation.Media, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.media, nil
}

type mockMediaStore struct {
	uploads map[string][]byte
	err     error
}

func newMockMediaStore() *mockMediaStore {
	return &mockMediaStore{uploads: make(map[string][]byte)}
}

func (m *mockMediaStore) Upload(_ context.Context, key, _ string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.uploads[key] = data
	return key, nil
}

func (m *mockMediaStore) Delete(context.Context, string) error { return nil }
func (m *mockMediaStore) PublicURL(key string) string          { return "https://cdn.test/" + key }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		MaxWorkers:      1,
		MaxAttempts:     3,
		RetryBackoff:    60 * time.Second,
		RetryBackoffMax: 10 * time.Minute,
	}
}

func pendingCreation(mediaType string) *models.Creation {
	return &models.Creation{
		ID: uuid.New(), OwnerID: uuid.New(), MediaType: mediaType,
		Prompt: "a lighthouse at dusk", Cost: 5, Status: models.CreationStatusPending,
	}
}

func jobFor(id uuid.UUID, attempt, maxAttempts int) *river.Job[GenerateArgs] {
	return &river.Job[GenerateArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   GenerateArgs{CreationID: id},
	}
}

// ---------------------------------------------------------------------------
// Work
// ---------------------------------------------------------------------------

func TestWorkSuccess(t *testing.T) {
	c := pendingCreation(models.MediaTypeImage)
	lifecycle := newMockLifecycle(c)
	provider := &mockProvider{media: &generation.Media{Data: []byte("png-bytes"), ContentType: "image/png"}}
	store := newMockMediaStore()
	w := NewGenerateWorker(lifecycle, provider, store, testWorkerConfig(), nil)

	if err := w.Work(context.Background(), jobFor(c.ID, 1, 3)); err != nil {
		t.Fatalf("Work: %v", err)
	}

	stored := lifecycle.get(c.ID)
	if stored.Status != models.CreationStatusDraft {
		t.Errorf("status: got %q, want draft", stored.Status)
	}
	wantKey := fmt.Sprintf("creations/%s.png", c.ID)
	if stored.MediaRef == nil || *stored.MediaRef != wantKey {
		t.Errorf("media_ref: got %v, want %q", stored.MediaRef, wantKey)
	}
	if _, ok := store.uploads[wantKey]; !ok {
		t.Errorf("media not uploaded under %q", wantKey)
	}
	if got := lifecycle.refunds[c.ID]; got != 0 {
		t.Errorf("refund issued on success: %d", got)
	}
}

func TestWorkTerminalCreationAcknowledged(t *testing.T) {
	c := pendingCreation(models.MediaTypeImage)
	c.Status = models.CreationStatusFailed
	c.Refunded = true
	lifecycle := newMockLifecycle(c)
	provider := &mockProvider{media: &generation.Media{Data: []byte("x"), ContentType: "image/png"}}
	w := NewGenerateWorker(lifecycle, provider, newMockMediaStore(), testWorkerConfig(), nil)

	// Redelivered task for a creation the sweeper already failed.
	if err := w.Work(context.Background(), jobFor(c.ID, 2, 3)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called for terminal creation: %d calls", provider.calls)
	}
	if got := lifecycle.get(c.ID).Status; got != models.CreationStatusFailed {
		t.Errorf("status changed: got %q", got)
	}
}

func TestWorkPolicyViolation(t *testing.T) {
	c := pendingCreation(models.MediaTypeImage)
	lifecycle := newMockLifecycle(c)
	provider := &mockProvider{err: &generation.PolicyError{Reason: "prompt rejected by safety system"}}
	w := NewGenerateWorker(lifecycle, provider, newMockMediaStore(), testWorkerConfig(), nil)

	// First attempt, but policy failures never retry.
	if err := w.Work(context.Background(), jobFor(c.ID, 1, 3)); err != nil {
		t.Fatalf("Work should acknowledge a policy failure, got: %v", err)
	}

	stored := lifecycle.get(c.ID)
	if stored.Status != models.CreationStatusFailed {
		t.Errorf("status: got %q, want failed", stored.Status)
	}
	if !stored.Refunded {
		t.Error("policy failure must refund")
	}
	if stored.Error == nil || !strings.Contains(*stored.Error, "safety system") {
		t.Errorf("error message: got %v", stored.Error)
	}
	if got := lifecycle.refunds[c.ID]; got != 1 {
		t.Errorf("refund count: got %d, want 1", got)
	}
}

func TestWorkTransientRetries(t *testing.T) {
	c := pendingCreation(models.MediaTypeVideo)
	lifecycle := newMockLifecycle(c)
	cause := &generation.TransientError{Reason: "rate limited"}
	provider := &mockProvider{err: cause}
	w := NewGenerateWorker(lifecycle, provider, newMockMediaStore(), testWorkerConfig(), nil)

	// Attempts before the last one surface the error for redelivery.
	err := w.Work(context.Background(), jobFor(c.ID, 1, 3))
	if !errors.Is(err, cause) {
		t.Fatalf("expected transient error returned for retry, got: %v", err)
	}
	if got := lifecycle.get(c.ID).Status; got != models.CreationStatusProcessing {
		t.Errorf("status after transient failure: got %q, want processing", got)
	}
	if got := lifecycle.refunds[c.ID]; got != 0 {
		t.Errorf("refund issued before exhaustion: %d", got)
	}
}

func TestWorkTransientExhausted(t *testing.T) {
	c := pendingCreation(models.MediaTypeVideo)
	lifecycle := newMockLifecycle(c)
	provider := &mockProvider{err: &generation.TransientError{Reason: "provider outage"}}
	w := NewGenerateWorker(lifecycle, provider, newMockMediaStore(), testWorkerConfig(), nil)

	// Final attempt converts the transient failure into a permanent one.
	if err := w.Work(context.Background(), jobFor(c.ID, 3, 3)); err != nil {
		t.Fatalf("exhausted attempt should acknowledge, got: %v", err)
	}

	stored := lifecycle.get(c.ID)
	if stored.Status != models.CreationStatusFailed {
		t.Errorf("status: got %q, want failed", stored.Status)
	}
	if !stored.Refunded {
		t.Error("exhausted retries must refund")
	}
	if stored.Error == nil || !strings.Contains(*stored.Error, "after 3 attempts") {
		t.Errorf("error message should mention attempts: got %v", stored.Error)
	}
}

func TestWorkUploadFailureRetries(t *testing.T) {
	c := pendingCreation(models.MediaTypeImage)
	lifecycle := newMockLifecycle(c)
	provider := &mockProvider{media: &generation.Media{Data: []byte("x"), ContentType: "image/png"}}
	store := newMockMediaStore()
	store.err = errors.New("connection reset")
	w := NewGenerateWorker(lifecycle, provider, store, testWorkerConfig(), nil)

	if err := w.Work(context.Background(), jobFor(c.ID, 1, 3)); err == nil {
		t.Fatal("upload failure with attempts left should return an error")
	}
	if got := lifecycle.refunds[c.ID]; got != 0 {
		t.Errorf("refund issued on retryable upload failure: %d", got)
	}
}

func TestWorkRefundFailureRedelivers(t *testing.T) {
	c := pendingCreation(models.MediaTypeImage)
	lifecycle := newMockLifecycle(c)
	lifecycle.failErr = errors.New("database unavailable")
	provider := &mockProvider{err: &generation.PolicyError{Reason: "nsfw"}}
	w := NewGenerateWorker(lifecycle, provider, newMockMediaStore(), testWorkerConfig(), nil)

	// If the refund cannot be recorded the task must come back.
	if err := w.Work(context.Background(), jobFor(c.ID, 1, 3)); err == nil {
		t.Fatal("refund failure should surface an error for redelivery")
	}
}

// ---------------------------------------------------------------------------
// NextRetry
// ---------------------------------------------------------------------------

func TestNextRetryBackoff(t *testing.T) {
	cfg := config.WorkerConfig{
		RetryBackoff:    60 * time.Second,
		RetryBackoffMax: 3 * time.Minute,
	}
	w := NewGenerateWorker(newMockLifecycle(), &mockProvider{}, newMockMediaStore(), cfg, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 60 * time.Second},
		{2, 2 * time.Minute},
		{3, 3 * time.Minute}, // doubled to 4m, capped at 3m
		{4, 3 * time.Minute},
	}
	for _, tt := range tests {
		before := time.Now()
		next := w.NextRetry(jobFor(uuid.New(), tt.attempt, 5))
		got := next.Sub(before)
		if got < tt.want-time.Second || got > tt.want+time.Second {
			t.Errorf("attempt %d: backoff %v, want ~%v", tt.attempt, got, tt.want)
		}
	}
}

func TestObjectKeyExtension(t *testing.T) {
	c := &models.Creation{ID: uuid.New()}
	tests := []struct {
		contentType string
		wantExt     string
	}{
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"image/webp", ".webp"},
		{"video/mp4", ".mp4"},
		{"video/webm", ".webm"},
		{"application/octet-stream", ""},
	}
	for _, tt := range tests {
		want := fmt.Sprintf("creations/%s%s", c.ID, tt.wantExt)
		if got := objectKey(c, tt.contentType); got != want {
			t.Errorf("objectKey(%q): got %q, want %q", tt.contentType, got, want)
		}
	}
}
