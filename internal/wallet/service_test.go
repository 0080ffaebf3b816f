package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/glintworks/atelier/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for WalletRepo and LedgerRepo. These emulate the store's
// atomicity (conditional debit under a mutex) so the real Service logic can
// be exercised without a database.
// ---------------------------------------------------------------------------

// --- fakeTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct{}

func (fakePool) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

// --- WalletRepo mock ---

type mockWallets struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
}

func newMockWallets(ws ...*models.Wallet) *mockWallets {
	m := &mockWallets{wallets: make(map[uuid.UUID]*models.Wallet)}
	for _, w := range ws {
		cp := *w
		m.wallets[w.UserID] = &cp
	}
	return m
}

func (m *mockWallets) GetByUserID(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockWallets) GetByUserIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockWallets) DebitIfSufficient(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return 0, fmt.Errorf("wallet %s not found", id)
	}
	if w.Balance < amount {
		return 0, pgx.ErrNoRows
	}
	w.Balance -= amount
	w.TotalSpent += amount
	return w.Balance, nil
}

func (m *mockWallets) AddTokens(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int, earned bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return 0, fmt.Errorf("wallet %s not found", id)
	}
	w.Balance += amount
	if earned {
		w.TotalEarned += amount
	}
	return w.Balance, nil
}

func (m *mockWallets) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[id].Balance
}

func (m *mockWallets) totals(id uuid.UUID) (earned, spent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[id].TotalEarned, m.wallets[id].TotalSpent
}

// --- LedgerRepo mock ---

type mockLedger struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
}

func (m *mockLedger) CreateTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockLedger) HasRefundForTx(_ context.Context, _ pgx.Tx, creationID uuid.UUID) (bool, error) {
	return m.hasRefund(creationID), nil
}

func (m *mockLedger) HasRefundFor(_ context.Context, creationID uuid.UUID) (bool, error) {
	return m.hasRefund(creationID), nil
}

func (m *mockLedger) hasRefund(creationID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EntryType == models.LedgerEntryRefund && e.CreationID != nil && *e.CreationID == creationID {
			return true
		}
	}
	return false
}

func (m *mockLedger) ExistsReference(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Reference != nil && *e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLedger) ListByUser(_ context.Context, userID uuid.UUID, _ int) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockLedger) byType(entryType string) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func wlt(id uuid.UUID, balance int) *models.Wallet {
	return &models.Wallet{UserID: id, Balance: balance}
}

func newSvc(wallets *mockWallets, ledger *mockLedger) *Service {
	return NewService(fakePool{}, wallets, ledger, nil)
}

// ---------------------------------------------------------------------------
// TryDebit
// ---------------------------------------------------------------------------

func TestTryDebit(t *testing.T) {
	user := uuid.New()
	creation := uuid.New()

	wallets := newMockWallets(wlt(user, 100))
	ledger := &mockLedger{}
	svc := newSvc(wallets, ledger)

	ctx := context.Background()
	newBalance, err := svc.TryDebit(ctx, user, 30, creation)
	if err != nil {
		t.Fatalf("TryDebit: %v", err)
	}
	if newBalance != 70 {
		t.Errorf("new balance: got %d, want 70", newBalance)
	}

	spends := ledger.byType(models.LedgerEntrySpend)
	if len(spends) != 1 {
		t.Fatalf("spend entries: got %d, want 1", len(spends))
	}
	if spends[0].Amount != -30 {
		t.Errorf("spend amount: got %d, want -30", spends[0].Amount)
	}
	if spends[0].CreationID == nil || *spends[0].CreationID != creation {
		t.Error("spend entry should reference the creation")
	}
	if spends[0].BalanceAfter != 70 {
		t.Errorf("spend balance_after: got %d, want 70", spends[0].BalanceAfter)
	}

	_, spent := wallets.totals(user)
	if spent != 30 {
		t.Errorf("total_spent: got %d, want 30", spent)
	}
}

func TestTryDebitInsufficient(t *testing.T) {
	user := uuid.New()

	wallets := newMockWallets(wlt(user, 5))
	ledger := &mockLedger{}
	svc := newSvc(wallets, ledger)

	_, err := svc.TryDebit(context.Background(), user, 10, uuid.New())
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}

	// Nothing mutated, nothing logged.
	if got := wallets.balance(user); got != 5 {
		t.Errorf("balance changed on failed debit: got %d, want 5", got)
	}
	if n := len(ledger.byType(models.LedgerEntrySpend)); n != 0 {
		t.Errorf("spend entries after failed debit: got %d, want 0", n)
	}
}

// With balance B and per-call cost C, N concurrent debits succeed exactly
// floor(B/C) times and the balance never goes negative.
func TestTryDebitConcurrent(t *testing.T) {
	user := uuid.New()
	const balance = 100
	const cost = 30
	const calls = 20

	wallets := newMockWallets(wlt(user, balance))
	ledger := &mockLedger{}
	svc := newSvc(wallets, ledger)

	var wg sync.WaitGroup
	results := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TryDebit(context.Background(), user, cost, uuid.New())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch err {
		case nil:
			ok++
		case ErrInsufficientBalance:
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	wantOK := balance / cost // 3
	if ok != wantOK {
		t.Errorf("successful debits: got %d, want %d", ok, wantOK)
	}
	if insufficient != calls-wantOK {
		t.Errorf("insufficient results: got %d, want %d", insufficient, calls-wantOK)
	}
	if got := wallets.balance(user); got != balance-wantOK*cost {
		t.Errorf("final balance: got %d, want %d", got, balance-wantOK*cost)
	}
	if got := wallets.balance(user); got < 0 {
		t.Errorf("balance went negative: %d", got)
	}
	if n := len(ledger.byType(models.LedgerEntrySpend)); n != wantOK {
		t.Errorf("spend entries: got %d, want %d", n, wantOK)
	}
}

// ---------------------------------------------------------------------------
// Credit
// ---------------------------------------------------------------------------

func TestCreditEarningsVsRefund(t *testing.T) {
	user := uuid.New()
	creation := uuid.New()

	wallets := newMockWallets(wlt(user, 0))
	ledger := &mockLedger{}
	svc := newSvc(wallets, ledger)

	ctx := context.Background()

	// A bonus counts toward total_earned.
	if _, err := svc.Credit(ctx, user, 20, models.LedgerEntryBonus, nil, nil); err != nil {
		t.Fatalf("Credit bonus: %v", err)
	}
	earned, _ := wallets.totals(user)
	if earned != 20 {
		t.Errorf("total_earned after bonus: got %d, want 20", earned)
	}

	// A refund restores balance but is not an earning.
	if _, err := svc.Credit(ctx, user, 10, models.LedgerEntryRefund, &creation, nil); err != nil {
		t.Fatalf("Credit refund: %v", err)
	}
	earned, _ = wallets.totals(user)
	if earned != 20 {
		t.Errorf("total_earned after refund: got %d, want 20 (unchanged)", earned)
	}
	if got := wallets.balance(user); got != 30 {
		t.Errorf("balance: got %d, want 30", got)
	}

	refunds := ledger.byType(models.LedgerEntryRefund)
	if len(refunds) != 1 || refunds[0].CreationID == nil || *refunds[0].CreationID != creation {
		t.Error("refund entry should reference the creation")
	}

	has, err := svc.HasRefunded(ctx, creation)
	if err != nil || !has {
		t.Errorf("HasRefunded: got (%v, %v), want (true, nil)", has, err)
	}
	has, err = svc.HasRefunded(ctx, uuid.New())
	if err != nil || has {
		t.Errorf("HasRefunded for unrelated id: got (%v, %v), want (false, nil)", has, err)
	}
}

// ---------------------------------------------------------------------------
// Purchase idempotency
// ---------------------------------------------------------------------------

func TestPurchaseIdempotent(t *testing.T) {
	user := uuid.New()

	wallets := newMockWallets(wlt(user, 0))
	ledger := &mockLedger{}
	svc := newSvc(wallets, ledger)

	ctx := context.Background()
	entry, err := svc.Purchase(ctx, user, 50, "pay_session_123")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if entry == nil {
		t.Fatal("first purchase should return an entry")
	}

	// Redelivered confirmation: acknowledged, no second credit.
	dup, err := svc.Purchase(ctx, user, 50, "pay_session_123")
	if err != nil {
		t.Fatalf("duplicate Purchase: %v", err)
	}
	if dup != nil {
		t.Error("duplicate purchase should return nil entry")
	}
	if got := wallets.balance(user); got != 50 {
		t.Errorf("balance after duplicate: got %d, want 50", got)
	}
	if n := len(ledger.byType(models.LedgerEntryPurchase)); n != 1 {
		t.Errorf("purchase entries: got %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Tip
// ---------------------------------------------------------------------------

func TestTip(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()

	wallets := newMockWallets(wlt(sender, 100), wlt(receiver, 10))
	ledger := &mockLedger{}
	svc := newSvc(wallets, ledger)

	ctx := context.Background()
	if err := svc.Tip(ctx, sender, receiver, 25); err != nil {
		t.Fatalf("Tip: %v", err)
	}

	if got := wallets.balance(sender); got != 75 {
		t.Errorf("sender balance: got %d, want 75", got)
	}
	if got := wallets.balance(receiver); got != 35 {
		t.Errorf("receiver balance: got %d, want 35", got)
	}

	sent := ledger.byType(models.LedgerEntryTipSent)
	received := ledger.byType(models.LedgerEntryTipReceived)
	if len(sent) != 1 || sent[0].Amount != -25 {
		t.Errorf("tip_sent entries: got %v", sent)
	}
	if len(received) != 1 || received[0].Amount != 25 {
		t.Errorf("tip_received entries: got %v", received)
	}

	// Token conservation.
	if total := wallets.balance(sender) + wallets.balance(receiver); total != 110 {
		t.Errorf("conservation violated: total %d, want 110", total)
	}

	// Insufficient funds and self-tips are rejected without mutation.
	if err := svc.Tip(ctx, sender, receiver, 9999); err != ErrInsufficientBalance {
		t.Errorf("expected ErrInsufficientBalance, got: %v", err)
	}
	if err := svc.Tip(ctx, sender, sender, 5); err != ErrSelfTip {
		t.Errorf("expected ErrSelfTip, got: %v", err)
	}
	if got := wallets.balance(sender); got != 75 {
		t.Errorf("sender balance after rejected tips: got %d, want 75", got)
	}
}
