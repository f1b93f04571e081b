package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/open-apime/crmhub/internal/pkg/crypto"
	"github.com/open-apime/crmhub/internal/storage/model"
)

type integrationRepo struct {
	db             *DB
	credentialsKey string
}

func NewIntegrationRepository(db *DB, credentialsKey string) *integrationRepo {
	return &integrationRepo{db: db, credentialsKey: credentialsKey}
}

const integrationColumns = `id, tenant_id, channel, provider, credentials, config, status, is_active, webhook_token, created_at, updated_at`

func (r *integrationRepo) Create(ctx context.Context, in model.Integration) (model.Integration, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now

	creds, cfg, err := r.encode(in)
	if err != nil {
		return model.Integration{}, err
	}

	query := `
		INSERT INTO integrations (` + integrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		in.ID, in.TenantID, in.Channel, in.Provider, creds, cfg, in.Status, in.IsActive, in.WebhookToken, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return model.Integration{}, fmt.Errorf("postgres: criar integração: %w", err)
	}
	return in, nil
}

func (r *integrationRepo) GetByID(ctx context.Context, id string) (model.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *integrationRepo) GetActive(ctx context.Context, tenantID string, channel model.Channel) (model.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE tenant_id = $1 AND channel = $2 AND is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, tenantID, channel))
}

func (r *integrationRepo) ListActive(ctx context.Context, channel model.Channel) ([]model.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE is_active = TRUE AND ($1 = '' OR channel = $1)
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, string(channel))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Integration
	for rows.Next() {
		in, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *integrationRepo) Update(ctx context.Context, in model.Integration) (model.Integration, error) {
	in.UpdatedAt = time.Now().UTC()
	creds, cfg, err := r.encode(in)
	if err != nil {
		return model.Integration{}, err
	}

	query := `
		UPDATE integrations
		SET provider = $2, credentials = $3, config = $4::jsonb, status = $5, is_active = $6, webhook_token = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, in.ID, in.Provider, creds, cfg, in.Status, in.IsActive, in.WebhookToken, in.UpdatedAt)
	if err != nil {
		return model.Integration{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Integration{}, ErrNotFound
	}
	return r.GetByID(ctx, in.ID)
}

func (r *integrationRepo) encode(in model.Integration) (string, []byte, error) {
	creds, err := crypto.SealCredentials(in.Credentials, r.credentialsKey)
	if err != nil {
		return "", nil, err
	}
	if in.Config == nil {
		in.Config = map[string]any{}
	}
	cfg, err := json.Marshal(in.Config)
	if err != nil {
		return "", nil, fmt.Errorf("postgres: marshal config: %w", err)
	}
	return creds, cfg, nil
}

func (r *integrationRepo) scanOne(row pgx.Row) (model.Integration, error) {
	in, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Integration{}, ErrNotFound
	}
	return in, err
}

func (r *integrationRepo) scan(row pgx.Row) (model.Integration, error) {
	var (
		in      model.Integration
		creds   string
		cfgJSON []byte
	)
	if err := row.Scan(
		&in.ID, &in.TenantID, &in.Channel, &in.Provider, &creds, &cfgJSON, &in.Status, &in.IsActive, &in.WebhookToken, &in.CreatedAt, &in.UpdatedAt,
	); err != nil {
		return model.Integration{}, err
	}

	opened, err := crypto.OpenCredentials(creds, r.credentialsKey)
	if err != nil {
		return model.Integration{}, err
	}
	in.Credentials = opened

	in.Config = map[string]any{}
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &in.Config); err != nil {
			return model.Integration{}, fmt.Errorf("postgres: unmarshal config: %w", err)
		}
	}
	return in, nil
}
