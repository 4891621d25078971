package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/models"
)

const txColumns = `id, principal_id, amount, kind, external_ref, balance_after, created_at`

// LedgerRepo implements ledger.Store on Postgres.
type LedgerRepo struct {
	*PrincipalRepo
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{PrincipalRepo: NewPrincipalRepo(pool), pool: pool}
}

var _ ledger.Store = (*LedgerRepo)(nil)

// DebitIfAvailable decrements the balance only if it covers amount and
// records the usage row in the same transaction. The conditional UPDATE takes
// the row lock, so concurrent debits for one principal serialize on it.
func (r *LedgerRepo) DebitIfAvailable(ctx context.Context, principalID uuid.UUID, amount int64) (ledger.DebitResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ledger.DebitResult{}, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE principals SET credit_balance = credit_balance - $1
		WHERE id = $2 AND credit_balance >= $1
		RETURNING credit_balance
	`, amount, principalID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var current int64
		err = tx.QueryRow(ctx, `SELECT credit_balance FROM principals WHERE id = $1`, principalID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.DebitResult{}, ledger.ErrPrincipalNotFound
		}
		if err != nil {
			return ledger.DebitResult{}, err
		}
		return ledger.DebitResult{Granted: false, RemainingBalance: current}, nil
	}
	if err != nil {
		return ledger.DebitResult{}, err
	}

	t := &models.LedgerTransaction{
		ID:           uuid.New(),
		PrincipalID:  principalID,
		Amount:       -amount,
		Kind:         models.TransactionUsage,
		BalanceAfter: balance,
	}
	if err := insertTx(ctx, tx, t); err != nil {
		return ledger.DebitResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.DebitResult{}, err
	}
	return ledger.DebitResult{Granted: true, RemainingBalance: balance, Transaction: t}, nil
}

// Credit grants amount. With an external reference the insert is guarded by
// the unique index; on conflict the balance update is rolled back and the
// existing transaction is returned.
func (r *LedgerRepo) Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (ledger.CreditResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE principals SET credit_balance = credit_balance + $1
		WHERE id = $2
		RETURNING credit_balance
	`, amount, principalID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.CreditResult{}, ledger.ErrPrincipalNotFound
	}
	if err != nil {
		return ledger.CreditResult{}, err
	}

	t := &models.LedgerTransaction{
		ID:           uuid.New(),
		PrincipalID:  principalID,
		Amount:       amount,
		Kind:         kind,
		ExternalRef:  externalRef,
		BalanceAfter: balance,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (id, principal_id, amount, kind, external_ref, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_ref) DO NOTHING
		RETURNING created_at
	`, t.ID, t.PrincipalID, t.Amount, string(t.Kind), t.ExternalRef, t.BalanceAfter).Scan(&t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		existing, err := r.FindByExternalRef(ctx, *externalRef)
		if err != nil {
			return ledger.CreditResult{}, err
		}
		if existing == nil {
			return ledger.CreditResult{}, fmt.Errorf("external ref %q conflicted but was not found", *externalRef)
		}
		return ledger.CreditResult{Transaction: existing, Applied: false}, nil
	}
	if err != nil {
		return ledger.CreditResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.CreditResult{}, err
	}
	return ledger.CreditResult{Transaction: t, Applied: true}, nil
}

func (r *LedgerRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	t, err := scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	return t, err
}

func (r *LedgerRepo) FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error) {
	t, err := scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE external_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *LedgerRepo) ListTransactions(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.LedgerTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM ledger_transactions WHERE principal_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *LedgerRepo) SumTransactions(ctx context.Context, principalID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM ledger_transactions WHERE principal_id = $1
	`, principalID).Scan(&sum)
	return sum, err
}

func insertTx(ctx context.Context, tx pgx.Tx, t *models.LedgerTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (id, principal_id, amount, kind, external_ref, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.PrincipalID, t.Amount, string(t.Kind), t.ExternalRef, t.BalanceAfter).Scan(&t.CreatedAt)
}

func scanTx(row pgx.Row) (*models.LedgerTransaction, error) {
	var t models.LedgerTransaction
	var kind string
	if err := row.Scan(&t.ID, &t.PrincipalID, &t.Amount, &kind, &t.ExternalRef, &t.BalanceAfter, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TransactionKind(kind)
	return &t, nil
}
