package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glintworks/atelier/internal/models"
)

type CreationRepo struct {
	pool *pgxpool.Pool
}

func NewCreationRepo(pool *pgxpool.Pool) *CreationRepo {
	return &CreationRepo{pool: pool}
}

const creationColumns = `id, owner_id, media_type, prompt, cost, status, media_ref, caption, error, refunded, created_at, processing_started_at, completed_at, published_at`

func scanCreation(row pgx.Row) (*models.Creation, error) {
	var c models.Creation
	err := row.Scan(&c.ID, &c.OwnerID, &c.MediaType, &c.Prompt, &c.Cost, &c.Status,
		&c.MediaRef, &c.Caption, &c.Error, &c.Refunded,
		&c.CreatedAt, &c.ProcessingStartedAt, &c.CompletedAt, &c.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateTx inserts a pending creation inside the given transaction — the
// same transaction that debits the wallet, so the two are never observed
// independently.
func (r *CreationRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Creation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO creations (id, owner_id, media_type, prompt, cost, status, refunded)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING created_at
	`, c.ID, c.OwnerID, c.MediaType, c.Prompt, c.Cost, c.Status).Scan(&c.CreatedAt)
}

func (r *CreationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Creation, error) {
	return scanCreation(r.pool.QueryRow(ctx, `
		SELECT `+creationColumns+` FROM creations WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the creation row. Call within a transaction.
func (r *CreationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Creation, error) {
	return scanCreation(tx.QueryRow(ctx, `
		SELECT `+creationColumns+` FROM creations WHERE id = $1 FOR UPDATE
	`, id))
}

// MarkProcessing transitions pending -> processing. A creation that is
// already processing or terminal is left untouched (duplicate delivery).
func (r *CreationRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE creations SET status = 'processing', processing_started_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	return err
}

// SetDraftTx transitions to draft with the stored media reference.
func (r *CreationRepo) SetDraftTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, mediaRef string) error {
	_, err := tx.Exec(ctx, `
		UPDATE creations SET status = 'draft', media_ref = $2, completed_at = now()
		WHERE id = $1
	`, id, mediaRef)
	return err
}

// SetFailedTx transitions to failed and records the refund flag and reason.
func (r *CreationRepo) SetFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorMessage string, refunded bool) error {
	_, err := tx.Exec(ctx, `
		UPDATE creations SET status = 'failed', error = $2, refunded = $3, completed_at = now()
		WHERE id = $1
	`, id, errorMessage, refunded)
	return err
}

// Publish transitions draft -> published for the owner. Returns the number
// of rows changed; zero means the creation was not the owner's draft.
func (r *CreationRepo) Publish(ctx context.Context, id, ownerID uuid.UUID, caption string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE creations SET status = 'published', caption = $3, published_at = now()
		WHERE id = $1 AND owner_id = $2 AND status = 'draft'
	`, id, ownerID, caption)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes the row only while it is in a non-billing-ambiguous state.
func (r *CreationRepo) Delete(ctx context.Context, id, ownerID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM creations
		WHERE id = $1 AND owner_id = $2 AND status IN ('draft', 'failed')
	`, id, ownerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *CreationRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Creation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creationColumns+` FROM creations
		WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectCreations(rows)
}

func (r *CreationRepo) ListPublished(ctx context.Context, limit int) ([]*models.Creation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creationColumns+` FROM creations
		WHERE status = 'published' ORDER BY published_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectCreations(rows)
}

// ListStaleProcessing returns creations stuck in processing since before the
// cutoff — the orphan sweep query.
func (r *CreationRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Creation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creationColumns+` FROM creations
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectCreations(rows)
}

func collectCreations(rows pgx.Rows) ([]*models.Creation, error) {
	defer rows.Close()
	var list []*models.Creation
	for rows.Next() {
		c, err := scanCreation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
