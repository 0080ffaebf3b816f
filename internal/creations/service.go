package creations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glintworks/atelier/internal/models"
)

var (
	// ErrNotFound is returned when the creation does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("creation not found")

	// ErrInvalidState is returned when an owner-driven transition is not
	// legal from the creation's current state.
	ErrInvalidState = errors.New("creation is not in a valid state for this operation")
)

// CreationRepo is the store interface the lifecycle service needs.
type CreationRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Creation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Creation, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Creation, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetDraftTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, mediaRef string) error
	SetFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorMessage string, refunded bool) error
	Publish(ctx context.Context, id, ownerID uuid.UUID, caption string) (int64, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) (int64, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Creation, error)
	ListPublished(ctx context.Context, limit int) ([]*models.Creation, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Creation, error)
}

// WalletService is the subset of wallet operations the lifecycle needs.
type WalletService interface {
	TryDebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, creationID uuid.UUID) (int, error)
	CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, entryType string, creationID *uuid.UUID, reference *string) (*models.LedgerEntry, error)
	HasRefundedTx(ctx context.Context, tx pgx.Tx, creationID uuid.UUID) (bool, error)
}

// MediaStore is used to drop the stored object when a draft is deleted.
type MediaStore interface {
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service orchestrates the creation state machine. Every public operation
// either fully succeeds or fully no-ops with a typed error; no partial
// wallet/creation state ever escapes a method.
type Service struct {
	pool   TxBeginner
	repo   CreationRepo
	wallet WalletService
	store  MediaStore
	logger *slog.Logger
}

func NewService(pool TxBeginner, repo CreationRepo, wallet WalletService, store MediaStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, repo: repo, wallet: wallet, store: store, logger: logger}
}

// CreatePending debits the owner and inserts the pending creation in one
// transaction. On wallet.ErrInsufficientBalance nothing is created or
// charged.
func (s *Service) CreatePending(ctx context.Context, ownerID uuid.UUID, mediaType, prompt string, cost int) (*models.Creation, error) {
	if !models.ValidMediaType(mediaType) {
		return nil, fmt.Errorf("unsupported media type %q", mediaType)
	}
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if cost <= 0 {
		return nil, fmt.Errorf("cost must be positive, got %d", cost)
	}

	c := &models.Creation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		MediaType: mediaType,
		Prompt:    prompt,
		Cost:      cost,
		Status:    models.CreationStatusPending,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.wallet.TryDebitTx(ctx, tx, ownerID, cost, c.ID); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTx(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup fetches a creation without ownership checks, for pipeline
// internals (worker, sweeper).
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*models.Creation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// MarkProcessing records that a worker picked the creation up. Idempotent:
// a creation already processing or terminal is left untouched.
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkProcessing(ctx, id)
}

// CompleteWithMedia transitions to draft with the stored media reference.
// A creation that is no longer pending/processing is left untouched — that
// is the duplicate-delivery guard for at-least-once queues.
func (s *Service) CompleteWithMedia(ctx context.Context, id uuid.UUID, mediaRef string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		s.logger.Warn("complete ignored for terminal creation",
			"creation_id", id, "status", c.Status)
		return nil
	}
	if err := s.repo.SetDraftTx(ctx, tx, id, mediaRef); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FailAndRefund converges the creation to failed with exactly one refund,
// no matter how many times or from how many callers it runs. The creation
// row lock serializes concurrent worker/sweeper calls; the ledger check
// inside the same transaction decides whether a credit is still owed.
func (s *Service) FailAndRefund(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case models.CreationStatusDraft, models.CreationStatusPublished:
		// The worker finished first; there is nothing to refund.
		s.logger.Info("fail skipped, creation already completed",
			"creation_id", id, "status", c.Status)
		return nil
	}

	refunded, err := s.wallet.HasRefundedTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetFailedTx(ctx, tx, id, errorMessage, true); err != nil {
		return err
	}
	if !refunded {
		if _, err := s.wallet.CreditTx(ctx, tx, c.OwnerID, c.Cost, models.LedgerEntryRefund, &id, nil); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("creation failed",
		"creation_id", id, "owner_id", c.OwnerID, "reason", errorMessage, "refund_issued", !refunded)
	return nil
}

// Publish makes the owner's draft publicly visible.
func (s *Service) Publish(ctx context.Context, ownerID, id uuid.UUID, caption string) (*models.Creation, error) {
	rows, err := s.repo.Publish(ctx, id, ownerID, caption)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if _, err := s.getOwned(ctx, ownerID, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}
	return s.Lookup(ctx, id)
}

// Delete removes the owner's creation while it is in draft or failed state.
// Pending/processing rows are billing-relevant and cannot be deleted. The
// stored media object is removed best effort.
func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	c, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	rows, err := s.repo.Delete(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidState
	}

	if c.MediaRef != nil && *c.MediaRef != "" {
		if err := s.store.Delete(ctx, *c.MediaRef); err != nil {
			s.logger.Warn("media object delete failed",
				"creation_id", id, "media_ref", *c.MediaRef, "error", err)
		}
	}
	return nil
}

// Get returns the creation if the viewer owns it or it is published.
func (s *Service) Get(ctx context.Context, viewerID, id uuid.UUID) (*models.Creation, error) {
	c, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != viewerID && c.Status != models.CreationStatusPublished {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListByOwner returns all of the owner's creations, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Creation, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Feed returns recently published creations.
func (s *Service) Feed(ctx context.Context, limit int) ([]*models.Creation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListPublished(ctx, limit)
}

// ListStaleProcessing exposes the orphan query for the sweeper.
func (s *Service) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Creation, error) {
	return s.repo.ListStaleProcessing(ctx, cutoff)
}

// MediaURL resolves a creation's stored media reference to a public URL.
func (s *Service) MediaURL(c *models.Creation) string {
	if c.MediaRef == nil || *c.MediaRef == "" {
		return ""
	}
	return s.store.PublicURL(*c.MediaRef)
}

func (s *Service) getOwned(ctx context.Context, ownerID, id uuid.UUID) (*models.Creation, error) {
	c, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return c, nil
}
