package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/M-ajor19/quillify/internal/models"
)

type GenerationRepo struct {
	pool *pgxpool.Pool
}

func NewGenerationRepo(pool *pgxpool.Pool) *GenerationRepo {
	return &GenerationRepo{pool: pool}
}

func (r *GenerationRepo) CreateRecord(ctx context.Context, g *models.GenerationRecord) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Variations == nil {
		g.Variations = []string{}
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO generation_records (id, principal_id, input_text, output_text, variations, format, tone, credits_charged, usage_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, g.ID, g.PrincipalID, g.InputText, g.OutputText, g.Variations, g.Format, g.Tone, g.CreditsCharged, g.UsageTransactionID).Scan(&g.CreatedAt)
}

func (r *GenerationRepo) ListRecords(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.GenerationRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, principal_id, input_text, output_text, variations, format, tone, credits_charged, usage_transaction_id, created_at
		FROM generation_records WHERE principal_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationRecord
	for rows.Next() {
		var g models.GenerationRecord
		if err := rows.Scan(&g.ID, &g.PrincipalID, &g.InputText, &g.OutputText, &g.Variations, &g.Format, &g.Tone, &g.CreditsCharged, &g.UsageTransactionID, &g.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}
