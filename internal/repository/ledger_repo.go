package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glintworks/atelier/internal/models"
)

// LedgerRepo is append-only: entries are inserted and queried, never updated
// or deleted.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, user_id, entry_type, amount, balance_after, creation_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.UserID, e.EntryType, e.Amount, e.BalanceAfter, e.CreationID, e.Reference).Scan(&e.CreatedAt)
}

// HasRefundForTx reports whether a refund entry already references the
// creation, reading through the given transaction so the check serializes
// with a concurrent refund writer holding the creation row lock.
func (r *LedgerRepo) HasRefundForTx(ctx context.Context, tx pgx.Tx, creationID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries WHERE creation_id = $1 AND entry_type = 'refund'
		)
	`, creationID).Scan(&exists)
	return exists, err
}

func (r *LedgerRepo) HasRefundFor(ctx context.Context, creationID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries WHERE creation_id = $1 AND entry_type = 'refund'
		)
	`, creationID).Scan(&exists)
	return exists, err
}

// ExistsReference reports whether any entry already carries the external
// reference (purchase webhook dedup).
func (r *LedgerRepo) ExistsReference(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE reference = $1)
	`, reference).Scan(&exists)
	return exists, err
}

func (r *LedgerRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, entry_type, amount, balance_after, creation_id, reference, created_at
		FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.CreationID, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
