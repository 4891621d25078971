// Package sqlite is a single-node implementation of the ledger and generation
// record stores. Writers are serialised through one connection, which gives
// the same no-overdraft guarantee as the Postgres row lock.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/models"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	credit_balance INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_transactions (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	amount INTEGER NOT NULL CHECK (amount <> 0),
	kind TEXT NOT NULL CHECK (kind IN ('purchase','usage','refund')),
	external_ref TEXT UNIQUE,
	balance_after INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_principal_created ON ledger_transactions(principal_id, created_at DESC);
CREATE TABLE IF NOT EXISTS generation_records (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	input_text TEXT NOT NULL,
	output_text TEXT NOT NULL,
	variations TEXT NOT NULL DEFAULT '[]',
	format TEXT NOT NULL,
	tone TEXT NOT NULL,
	credits_charged INTEGER NOT NULL CHECK (credits_charged IN (0, 1)),
	usage_transaction_id TEXT REFERENCES ledger_transactions(id),
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_records_principal_created ON generation_records(principal_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const principalColumns = `id, email, display_name, password_hash, credit_balance, created_at`

func (s *Store) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreditBalance = 0
	p.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO principals(id, email, display_name, password_hash, credit_balance, created_at)
VALUES(?, ?, ?, ?, 0, ?)`, p.ID, p.Email, p.DisplayName, p.PasswordHash, p.CreatedAt)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateEmail
	}
	return err
}

func (s *Store) GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = ?`, id))
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE email = ?`, email))
}

func (s *Store) DebitIfAvailable(ctx context.Context, principalID uuid.UUID, amount int64) (ledger.DebitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.DebitResult{}, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `
UPDATE principals SET credit_balance = credit_balance - ?
WHERE id = ? AND credit_balance >= ?
RETURNING credit_balance`, amount, principalID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var current int64
		err = tx.QueryRowContext(ctx, `SELECT credit_balance FROM principals WHERE id = ?`, principalID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
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
		CreatedAt:    s.now(),
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_transactions(id, principal_id, amount, kind, external_ref, balance_after, created_at)
VALUES(?, ?, ?, ?, NULL, ?, ?)`, t.ID, t.PrincipalID, t.Amount, string(t.Kind), t.BalanceAfter, t.CreatedAt); err != nil {
		return ledger.DebitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.DebitResult{}, err
	}
	return ledger.DebitResult{Granted: true, RemainingBalance: balance, Transaction: t}, nil
}

func (s *Store) Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (ledger.CreditResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `
UPDATE principals SET credit_balance = credit_balance + ?
WHERE id = ?
RETURNING credit_balance`, amount, principalID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
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
		CreatedAt:    s.now(),
	}
	var inserted string
	err = tx.QueryRowContext(ctx, `
INSERT INTO ledger_transactions(id, principal_id, amount, kind, external_ref, balance_after, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(external_ref) DO NOTHING
RETURNING id`, t.ID, t.PrincipalID, t.Amount, string(t.Kind), t.ExternalRef, t.BalanceAfter, t.CreatedAt).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate reference: undo the balance change before reading the
		// winner, the single connection is held by tx until then.
		if err := tx.Rollback(); err != nil {
			return ledger.CreditResult{}, err
		}
		existing, err := s.FindByExternalRef(ctx, *externalRef)
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
	if err := tx.Commit(); err != nil {
		return ledger.CreditResult{}, err
	}
	return ledger.CreditResult{Transaction: t, Applied: true}, nil
}

const txColumns = `id, principal_id, amount, kind, external_ref, balance_after, created_at`

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	t, err := scanTx(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	return t, err
}

func (s *Store) FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error) {
	t, err := scanTx(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE external_ref = ?`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *Store) ListTransactions(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.LedgerTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+txColumns+`
FROM ledger_transactions
WHERE principal_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, principalID, limit)
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

func (s *Store) SumTransactions(ctx context.Context, principalID uuid.UUID) (int64, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(amount) FROM ledger_transactions WHERE principal_id = ?`, principalID).Scan(&sum)
	return sum.Int64, err
}

func (s *Store) CreateRecord(ctx context.Context, g *models.GenerationRecord) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Variations == nil {
		g.Variations = []string{}
	}
	variations, err := json.Marshal(g.Variations)
	if err != nil {
		return err
	}
	g.CreatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO generation_records(id, principal_id, input_text, output_text, variations, format, tone, credits_charged, usage_transaction_id, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.PrincipalID, g.InputText, g.OutputText, string(variations), g.Format, g.Tone, g.CreditsCharged, g.UsageTransactionID, g.CreatedAt)
	return err
}

func (s *Store) ListRecords(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, principal_id, input_text, output_text, variations, format, tone, credits_charged, usage_transaction_id, created_at
FROM generation_records
WHERE principal_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.GenerationRecord
	for rows.Next() {
		var g models.GenerationRecord
		var variations string
		if err := rows.Scan(&g.ID, &g.PrincipalID, &g.InputText, &g.OutputText, &variations, &g.Format, &g.Tone, &g.CreditsCharged, &g.UsageTransactionID, &g.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(variations), &g.Variations); err != nil {
			return nil, fmt.Errorf("decode variations of %s: %w", g.ID, err)
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.CreditBalance, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanTx(row rowScanner) (*models.LedgerTransaction, error) {
	var t models.LedgerTransaction
	var kind string
	var ref sql.NullString
	if err := row.Scan(&t.ID, &t.PrincipalID, &t.Amount, &kind, &ref, &t.BalanceAfter, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TransactionKind(kind)
	if ref.Valid {
		t.ExternalRef = &ref.String
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
