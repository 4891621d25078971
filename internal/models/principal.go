package models

import (
	"time"

	"github.com/google/uuid"
)

// Principal is an authenticated account that owns a credit balance.
// CreditBalance is a cache of the sum of the principal's ledger transactions
// and is only ever changed in the same database transaction as a ledger insert.
type Principal struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	PasswordHash  string    `json:"-"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}
