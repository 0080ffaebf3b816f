package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/glintworks/atelier/internal/models"
)

// SweepArgs is the periodic orphan-sweep task. It carries no payload; each
// run scans for stuck creations.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "sweep_orphans" }

func (SweepArgs) InsertOpts() river.InsertOpts {
	// A failed sweep is retried by the next scheduled run, not by the
	// queue's own retry machinery.
	return river.InsertOpts{MaxAttempts: 1}
}

// Lifecycle is the contract the sweeper needs: find orphans and force them
// to failed+refunded.
type Lifecycle interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Creation, error)
	FailAndRefund(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// SweepWorker is the safety net behind the worker's own failure handling: a
// creation stuck in processing past the configured window — crashed worker,
// lost task — is forced to failed and refunded. FailAndRefund's idempotence
// makes the race against a still-live worker safe.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	lifecycle  Lifecycle
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewSweepWorker(lifecycle Lifecycle, staleAfter time.Duration, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{lifecycle: lifecycle, staleAfter: staleAfter, logger: logger}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	cutoff := time.Now().Add(-w.staleAfter)
	orphans, err := w.lifecycle.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale processing: %w", err)
	}
	if len(orphans) == 0 {
		return nil
	}

	w.logger.Warn("sweeping orphaned creations", "count", len(orphans), "cutoff", cutoff)

	var failed int
	for _, c := range orphans {
		if err := w.lifecycle.FailAndRefund(ctx, c.ID, "processing timeout"); err != nil {
			failed++
			w.logger.Error("orphan sweep failed for creation",
				"creation_id", c.ID, "error", err)
			continue
		}
		w.logger.Info("orphaned creation refunded",
			"creation_id", c.ID, "owner_id", c.OwnerID, "stuck_since", c.ProcessingStartedAt)
	}
	if failed > 0 {
		return fmt.Errorf("sweep: %d of %d orphans could not be failed", failed, len(orphans))
	}
	return nil
}

// PeriodicJob returns the schedule entry for the river client.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
