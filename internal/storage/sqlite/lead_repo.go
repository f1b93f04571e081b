package sqlite

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, telefone) DO NOTHING
	`
	res, err := r.db.Conn.ExecContext(ctx, query,
		lead.ID, lead.TenantID, lead.Telefone, lead.Nome, lead.AvatarURL, lead.Source, formatTime(now), formatTime(now),
	)
	if err != nil {
		return model.Lead{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return lead, true, nil
	}

	existing, err := r.GetByPhone(ctx, lead.TenantID, lead.Telefone)
	return existing, false, err
}

func (r *leadRepo) GetByPhone(ctx context.Context, tenantID, telefone string) (model.Lead, error) {
	query := `
		SELECT id, tenant_id, telefone, nome, avatar_url, source, created_at, updated_at
		FROM leads WHERE tenant_id = ? AND telefone = ?
	`
	var (
		lead                 model.Lead
		createdAt, updatedAt string
	)
	err := r.db.Conn.QueryRowContext(ctx, query, tenantID, telefone).Scan(
		&lead.ID, &lead.TenantID, &lead.Telefone, &lead.Nome, &lead.AvatarURL, &lead.Source, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Lead{}, mapError(err)
	}
	lead.CreatedAt = parseTime(createdAt)
	lead.UpdatedAt = parseTime(updatedAt)
	return lead, nil
}

func (r *leadRepo) UpdateProfile(ctx context.Context, id, nome, avatarURL string) error {
	query := `
		UPDATE leads SET
			nome = CASE WHEN ? <> '' THEN ? ELSE nome END,
			avatar_url = CASE WHEN ? <> '' THEN ? ELSE avatar_url END,
			updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.Conn.ExecContext(ctx, query, nome, nome, avatarURL, avatarURL, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
