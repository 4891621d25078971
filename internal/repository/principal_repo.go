package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/models"
)

const principalColumns = `id, email, display_name, password_hash, credit_balance, created_at`

type PrincipalRepo struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepo(pool *pgxpool.Pool) *PrincipalRepo {
	return &PrincipalRepo{pool: pool}
}

// CreatePrincipal inserts p with a zero balance. Credits are granted through
// the ledger so the balance always matches the transaction log.
func (r *PrincipalRepo) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreditBalance = 0
	err := r.pool.QueryRow(ctx, `
		INSERT INTO principals (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, p.ID, p.Email, p.DisplayName, p.PasswordHash).Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ledger.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *PrincipalRepo) GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	return scanPrincipal(r.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id))
}

func (r *PrincipalRepo) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return scanPrincipal(r.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE email = $1`, email))
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.CreditBalance, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
