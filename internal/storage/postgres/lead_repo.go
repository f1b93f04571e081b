package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type leadRepo struct {
	db *DB
}

func NewLeadRepository(db *DB) *leadRepo {
	return &leadRepo{db: db}
}

func (r *leadRepo) FindOrCreate(ctx context.Context, lead model.Lead) (model.Lead, bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now

	query := `
		INSERT INTO leads (id, tenant_id, telefone, nome, avatar_url, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (tenant_id, telefone) DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query, lead.ID, lead.TenantID, lead.Telefone, lead.Nome, lead.AvatarURL, lead.Source, now)
	if err != nil {
		return model.Lead{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return lead, true, nil
	}

	existing, err := r.GetByPhone(ctx, lead.TenantID, lead.Telefone)
	return existing, false, err
}

func (r *leadRepo) GetByPhone(ctx context.Context, tenantID, telefone string) (model.Lead, error) {
	query := `
		SELECT id, tenant_id, telefone, nome, avatar_url, source, created_at, updated_at
		FROM leads WHERE tenant_id = $1 AND telefone = $2
	`
	var lead model.Lead
	err := r.db.Pool.QueryRow(ctx, query, tenantID, telefone).Scan(
		&lead.ID, &lead.TenantID, &lead.Telefone, &lead.Nome, &lead.AvatarURL, &lead.Source, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return model.Lead{}, mapError(err)
	}
	return lead, nil
}

func (r *leadRepo) UpdateProfile(ctx context.Context, id, nome, avatarURL string) error {
	query := `
		UPDATE leads SET
			nome = CASE WHEN $2 <> '' THEN $2 ELSE nome END,
			avatar_url = CASE WHEN $3 <> '' THEN $3 ELSE avatar_url END,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, nome, avatarURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
