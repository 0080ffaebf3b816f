package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/glintworks/atelier/internal/models"
)

// ErrInsufficientBalance is returned when a debit would take the balance
// below zero. Nothing is mutated in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrSelfTip is returned when a user tips themselves.
var ErrSelfTip = errors.New("cannot tip yourself")

// WalletRepo is the minimal wallet-row interface the service needs.
type WalletRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	DebitIfSufficient(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (int, error)
	AddTokens(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, earned bool) (int, error)
}

// LedgerRepo is the minimal append-only ledger interface the service needs.
type LedgerRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	HasRefundForTx(ctx context.Context, tx pgx.Tx, creationID uuid.UUID) (bool, error)
	HasRefundFor(ctx context.Context, creationID uuid.UUID) (bool, error)
	ExistsReference(ctx context.Context, reference string) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements the atomic wallet operations. Every mutation runs
// inside a single Postgres transaction; concurrent debits for one user
// serialize on the conditional UPDATE, not on an application lock, so the
// service can run in many stateless replicas.
type Service struct {
	pool    TxBeginner
	wallets WalletRepo
	ledger  LedgerRepo
	logger  *slog.Logger
}

func NewService(pool TxBeginner, wallets WalletRepo, ledger LedgerRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, wallets: wallets, ledger: ledger, logger: logger}
}

// Balance returns the wallet (balance plus lifetime counters).
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.wallets.GetByUserID(ctx, userID)
}

// Ledger returns the user's most recent ledger entries.
func (s *Service) Ledger(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ledger.ListByUser(ctx, userID, limit)
}

// TryDebitTx deducts amount and appends the spend ledger row inside the
// caller's transaction. Returns ErrInsufficientBalance without mutating
// anything when the balance is short.
func (s *Service) TryDebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, creationID uuid.UUID) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	newBalance, err := s.wallets.DebitIfSufficient(ctx, tx, userID, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientBalance
		}
		return 0, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		UserID:       userID,
		EntryType:    models.LedgerEntrySpend,
		Amount:       -amount,
		BalanceAfter: newBalance,
		CreationID:   &creationID,
	}
	if err := s.ledger.CreateTx(ctx, tx, entry); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// TryDebit is the self-contained variant: one transaction around
// TryDebitTx.
func (s *Service) TryDebit(ctx context.Context, userID uuid.UUID, amount int, creationID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.TryDebitTx(ctx, tx, userID, amount, creationID)
	if err != nil {
		return 0, err
	}
	return newBalance, tx.Commit(ctx)
}

// CreditTx increments the balance and appends a ledger row inside the
// caller's transaction. total_earned moves only for earnings-type reasons,
// never for refunds.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, entryType string, creationID *uuid.UUID, reference *string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	newBalance, err := s.wallets.AddTokens(ctx, tx, userID, amount, isEarning(entryType))
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		UserID:       userID,
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: newBalance,
		CreationID:   creationID,
		Reference:    reference,
	}
	if err := s.ledger.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit is the self-contained variant of CreditTx.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amount int, entryType string, creationID *uuid.UUID, reference *string) (*models.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entry, err := s.CreditTx(ctx, tx, userID, amount, entryType, creationID, reference)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

// HasRefunded reports whether a refund ledger entry already references the
// creation — the idempotency check for refund callers.
func (s *Service) HasRefunded(ctx context.Context, creationID uuid.UUID) (bool, error) {
	return s.ledger.HasRefundFor(ctx, creationID)
}

// HasRefundedTx is the in-transaction variant, used by the lifecycle
// service while holding the creation row lock.
func (s *Service) HasRefundedTx(ctx context.Context, tx pgx.Tx, creationID uuid.UUID) (bool, error) {
	return s.ledger.HasRefundForTx(ctx, tx, creationID)
}

// Purchase credits externally-paid tokens exactly once per reference. A
// redelivered confirmation finds the existing reference and does nothing.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, amount int, reference string) (*models.LedgerEntry, error) {
	if reference == "" {
		return nil, fmt.Errorf("purchase reference is required")
	}
	exists, err := s.ledger.ExistsReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.Info("duplicate purchase confirmation ignored", "user_id", userID, "reference", reference)
		return nil, nil
	}

	entry, err := s.Credit(ctx, userID, amount, models.LedgerEntryPurchase, nil, &reference)
	if err != nil {
		// The unique index on reference closes the check-then-insert race
		// between two concurrent webhook deliveries.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			s.logger.Info("concurrent duplicate purchase ignored", "user_id", userID, "reference", reference)
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// Tip moves amount from one user to another, locking both wallet rows in
// deterministic UUID order to avoid deadlocks between crossing tips.
func (s *Service) Tip(ctx context.Context, fromID, toID uuid.UUID, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("tip amount must be positive, got %d", amount)
	}
	if fromID == toID {
		return ErrSelfTip
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	first, second := fromID, toID
	if second.String() < first.String() {
		first, second = second, first
	}
	for _, id := range []uuid.UUID{first, second} {
		if _, err := s.wallets.GetByUserIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
	}

	senderBalance, err := s.wallets.DebitIfSufficient(ctx, tx, fromID, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientBalance
		}
		return err
	}
	if err := s.ledger.CreateTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), UserID: fromID, EntryType: models.LedgerEntryTipSent,
		Amount: -amount, BalanceAfter: senderBalance,
	}); err != nil {
		return err
	}

	receiverBalance, err := s.wallets.AddTokens(ctx, tx, toID, amount, true)
	if err != nil {
		return err
	}
	if err := s.ledger.CreateTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), UserID: toID, EntryType: models.LedgerEntryTipReceived,
		Amount: amount, BalanceAfter: receiverBalance,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isEarning reports whether the entry type counts toward total_earned.
func isEarning(entryType string) bool {
	switch entryType {
	case models.LedgerEntryPurchase, models.LedgerEntryBonus, models.LedgerEntryTipReceived:
		return true
	}
	return false
}
