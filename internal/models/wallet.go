package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's token balance plus lifetime counters. One row per user,
// created alongside the user. Balance is mutated only through the wallet
// service's transactional operations and never goes negative.
type Wallet struct {
	UserID      uuid.UUID `json:"user_id"`
	Balance     int       `json:"balance"`
	TotalEarned int       `json:"total_earned"`
	TotalSpent  int       `json:"total_spent"`
	UpdatedAt   time.Time `json:"updated_at"`
}
