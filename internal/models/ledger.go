package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry_type enums.
const (
	LedgerEntryPurchase    = "purchase"
	LedgerEntrySpend       = "spend"
	LedgerEntryRefund      = "refund"
	LedgerEntryTipSent     = "tip_sent"
	LedgerEntryTipReceived = "tip_received"
	LedgerEntryBonus       = "bonus"
)

// LedgerEntry is one append-only row in the balance audit trail. Amount is
// signed: negative for debits, positive for credits. CreationID links the
// entry to the creation that caused it; Reference carries an external
// correlation id (e.g. a payment session) and doubles as the idempotency key
// for externally-triggered credits.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	CreationID   *uuid.UUID `json:"creation_id,omitempty"`
	Reference    *string    `json:"reference,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
