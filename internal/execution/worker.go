package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/glintworks/atelier/internal/config"
	"github.com/glintworks/atelier/internal/generation"
	"github.com/glintworks/atelier/internal/models"
	"github.com/glintworks/atelier/internal/storage"
)

// GenerateArgs is the queue payload: one task per creation.
type GenerateArgs struct {
	CreationID uuid.UUID `json:"creation_id"`
}

func (GenerateArgs) Kind() string { return "generate_media" }

// Lifecycle is the contract the worker needs to drive a creation to a
// terminal state.
type Lifecycle interface {
	Lookup(ctx context.Context, id uuid.UUID) (*models.Creation, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	CompleteWithMedia(ctx context.Context, id uuid.UUID, mediaRef string) error
	FailAndRefund(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// GenerateWorker consumes generate_media tasks. Delivery is at-least-once,
// so every entry point is guarded by the creation's state machine: a task
// for an already-terminal creation is acknowledged without side effects.
type GenerateWorker struct {
	river.WorkerDefaults[GenerateArgs]
	lifecycle Lifecycle
	provider  generation.Provider
	store     storage.MediaStore
	cfg       config.WorkerConfig
	logger    *slog.Logger
}

func NewGenerateWorker(lifecycle Lifecycle, provider generation.Provider, store storage.MediaStore, cfg config.WorkerConfig, logger *slog.Logger) *GenerateWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateWorker{
		lifecycle: lifecycle,
		provider:  provider,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Work drives one creation toward a terminal state. Every return path
// either reaches a terminal state, or returns an error so the queue
// redelivers — a creation is never left in processing with nothing
// scheduled.
func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateArgs]) error {
	id := job.Args.CreationID

	c, err := w.lifecycle.Lookup(ctx, id)
	if err != nil {
		return fmt.Errorf("load creation %s: %w", id, err)
	}
	if c.IsTerminal() {
		w.logger.Info("duplicate delivery for terminal creation, acknowledging",
			"creation_id", id, "status", c.Status)
		return nil
	}

	if err := w.lifecycle.MarkProcessing(ctx, id); err != nil {
		return fmt.Errorf("mark processing %s: %w", id, err)
	}

	media, err := w.provider.Generate(ctx, generation.Request{
		MediaType: c.MediaType,
		Prompt:    c.Prompt,
	})
	if err != nil {
		var policyErr *generation.PolicyError
		if errors.As(err, &policyErr) {
			// Permanent: refund now, never retry.
			return w.failCreation(ctx, id, policyErr.Error())
		}
		return w.retryOrFail(ctx, job, fmt.Sprintf("generation failed: %v", err), err)
	}

	key := objectKey(c, media.ContentType)
	mediaRef, err := w.store.Upload(ctx, key, media.ContentType, media.Data)
	if err != nil {
		return w.retryOrFail(ctx, job, fmt.Sprintf("media upload failed: %v", err), err)
	}

	if err := w.lifecycle.CompleteWithMedia(ctx, id, mediaRef); err != nil {
		return fmt.Errorf("complete creation %s: %w", id, err)
	}
	w.logger.Info("creation completed", "creation_id", id, "media_ref", mediaRef)
	return nil
}

// NextRetry implements exponential backoff for transient failures: base
// doubling per attempt, capped.
func (w *GenerateWorker) NextRetry(job *river.Job[GenerateArgs]) time.Time {
	backoff := w.cfg.RetryBackoff << uint(job.Attempt-1)
	if w.cfg.RetryBackoffMax > 0 && backoff > w.cfg.RetryBackoffMax {
		backoff = w.cfg.RetryBackoffMax
	}
	return time.Now().Add(backoff)
}

// retryOrFail returns the transient error for redelivery while attempts
// remain, and converts it into a permanent, refunded failure on the final
// attempt.
func (w *GenerateWorker) retryOrFail(ctx context.Context, job *river.Job[GenerateArgs], reason string, cause error) error {
	if job.Attempt < job.MaxAttempts {
		w.logger.Warn("transient failure, will retry",
			"creation_id", job.Args.CreationID, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", cause)
		return cause
	}
	return w.failCreation(ctx, job.Args.CreationID,
		fmt.Sprintf("%s (after %d attempts)", reason, job.Attempt))
}

// failCreation marks the creation failed+refunded and acknowledges the
// task. If the refund itself cannot be recorded the task is redelivered;
// FailAndRefund is idempotent so the retry converges.
func (w *GenerateWorker) failCreation(ctx context.Context, id uuid.UUID, reason string) error {
	if err := w.lifecycle.FailAndRefund(ctx, id, reason); err != nil {
		return fmt.Errorf("creation %s failed (%s) and refund did not commit: %w", id, reason, err)
	}
	return nil
}

func objectKey(c *models.Creation, contentType string) string {
	return fmt.Sprintf("creations/%s%s", c.ID, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	}
	return ""
}
