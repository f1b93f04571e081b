package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

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

type rowScanner interface {
	Scan(dest ...any) error
}

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

	query := `INSERT INTO integrations (` + integrationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Conn.ExecContext(ctx, query,
		in.ID, in.TenantID, in.Channel, in.Provider, creds, cfg, in.Status, boolToInt(in.IsActive), in.WebhookToken,
		formatTime(in.CreatedAt), formatTime(in.UpdatedAt),
	)
	if err != nil {
		return model.Integration{}, fmt.Errorf("sqlite: criar integração: %w", err)
	}
	return in, nil
}

func (r *integrationRepo) GetByID(ctx context.Context, id string) (model.Integration, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	in, err := r.scan(row)
	return in, mapError(err)
}

func (r *integrationRepo) GetActive(ctx context.Context, tenantID string, channel model.Channel) (model.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE tenant_id = ? AND channel = ? AND is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	in, err := r.scan(r.db.Conn.QueryRowContext(ctx, query, tenantID, channel))
	return in, mapError(err)
}

func (r *integrationRepo) ListActive(ctx context.Context, channel model.Channel) ([]model.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE is_active = 1 AND (? = '' OR channel = ?)
		ORDER BY created_at
	`
	rows, err := r.db.Conn.QueryContext(ctx, query, string(channel), string(channel))
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
		SET provider = ?, credentials = ?, config = ?, status = ?, is_active = ?, webhook_token = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.Conn.ExecContext(ctx, query,
		in.Provider, creds, cfg, in.Status, boolToInt(in.IsActive), in.WebhookToken, formatTime(in.UpdatedAt), in.ID,
	)
	if err != nil {
		return model.Integration{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Integration{}, ErrNotFound
	}
	return r.GetByID(ctx, in.ID)
}

func (r *integrationRepo) encode(in model.Integration) (string, string, error) {
	creds, err := crypto.SealCredentials(in.Credentials, r.credentialsKey)
	if err != nil {
		return "", "", err
	}
	if in.Config == nil {
		in.Config = map[string]any{}
	}
	cfg, err := json.Marshal(in.Config)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: marshal config: %w", err)
	}
	return creds, string(cfg), nil
}

func (r *integrationRepo) scan(row rowScanner) (model.Integration, error) {
	var (
		in                   model.Integration
		creds, cfg           string
		isActive             int
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&in.ID, &in.TenantID, &in.Channel, &in.Provider, &creds, &cfg, &in.Status, &isActive, &in.WebhookToken, &createdAt, &updatedAt,
	); err != nil {
		return model.Integration{}, err
	}
	in.IsActive = isActive == 1
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)

	opened, err := crypto.OpenCredentials(creds, r.credentialsKey)
	if err != nil {
		return model.Integration{}, err
	}
	in.Credentials = opened

	in.Config = map[string]any{}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &in.Config); err != nil {
			return model.Integration{}, fmt.Errorf("sqlite: unmarshal config: %w", err)
		}
	}
	return in, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
