package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind is the ledger_transactions.kind enum.
type TransactionKind string

const (
	TransactionPurchase TransactionKind = "purchase"
	TransactionUsage    TransactionKind = "usage"
	TransactionRefund   TransactionKind = "refund"
)

// Valid reports whether k is one of the known transaction kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case TransactionPurchase, TransactionUsage, TransactionRefund:
		return true
	}
	return false
}

// LedgerTransaction is an immutable balance movement. Amount is signed:
// grants are positive, usage is negative.
type LedgerTransaction struct {
	ID           uuid.UUID       `json:"id"`
	PrincipalID  uuid.UUID       `json:"principal_id"`
	Amount       int64           `json:"amount"`
	Kind         TransactionKind `json:"kind"`
	ExternalRef  *string         `json:"external_ref,omitempty"`
	BalanceAfter int64           `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}
