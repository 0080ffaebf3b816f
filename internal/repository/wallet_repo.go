package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glintworks/atelier/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// CreateTx inserts a zero-balance wallet for a new user inside the given
// transaction (the same one that inserts the user row).
func (r *WalletRepo) CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, total_earned, total_spent)
		VALUES ($1, 0, 0, 0)
	`, userID)
	return err
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, balance, total_earned, total_spent, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByUserIDForUpdate locks the wallet row. Call within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRow(ctx, `
		SELECT user_id, balance, total_earned, total_spent, updated_at
		FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&w.UserID, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// DebitIfSufficient atomically deducts amount when balance covers it and
// bumps total_spent. Returns pgx.ErrNoRows when the balance is short, with
// no mutation.
func (r *WalletRepo) DebitIfSufficient(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $1, total_spent = total_spent + $1, updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&newBalance)
	return newBalance, err
}

// AddTokens credits amount to the wallet. earned controls whether the
// lifetime total_earned counter moves (refunds restore balance without
// counting as earnings).
func (r *WalletRepo) AddTokens(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, earned bool) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1,
		    total_earned = total_earned + CASE WHEN $3 THEN $1 ELSE 0 END,
		    updated_at = now()
		WHERE user_id = $2
		RETURNING balance
	`, amount, userID, earned).Scan(&newBalance)
	return newBalance, err
}
