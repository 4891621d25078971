// Package ledger owns every balance-affecting write. Balances only move
// through DebitIfAvailable and Credit; both are single database transactions
// that insert the ledger row and update the cached balance together.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/models"
)

var (
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrTransactionNotFound = errors.New("ledger transaction not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrDuplicateEmail      = errors.New("email already registered")
)

// DebitResult reports the outcome of a conditional debit. Granted=false is
// not an error: the principal simply could not pay.
type DebitResult struct {
	Granted          bool
	RemainingBalance int64
	Transaction      *models.LedgerTransaction
}

// CreditResult carries the transaction a credit produced, or the existing one
// when the external reference had already been applied (Applied=false).
type CreditResult struct {
	Transaction *models.LedgerTransaction
	Applied     bool
}

// PrincipalStore persists principals. Principals are created with a zero
// balance; credits are granted through the ledger.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
}

// Store is the transactional storage behind the ledger.
type Store interface {
	PrincipalStore
	DebitIfAvailable(ctx context.Context, principalID uuid.UUID, amount int64) (DebitResult, error)
	Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (CreditResult, error)
	// GetTransaction returns ErrTransactionNotFound when no row matches.
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error)
	// FindByExternalRef returns (nil, nil) when no row matches.
	FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error)
	ListTransactions(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.LedgerTransaction, error)
	SumTransactions(ctx context.Context, principalID uuid.UUID) (int64, error)
}

// RefundRef is the external reference a refund of usageTxID is recorded
// under. The unique index on external_ref makes a refund apply at most once.
func RefundRef(usageTxID uuid.UUID) string {
	return "refund:" + usageTxID.String()
}

// SignupRef is the external reference of a principal's free trial grant.
func SignupRef(principalID uuid.UUID) string {
	return "signup:" + principalID.String()
}
