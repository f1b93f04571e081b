package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type webhookLogRepo struct {
	db *DB
}

func NewWebhookLogRepository(db *DB) *webhookLogRepo {
	return &webhookLogRepo{db: db}
}

func (r *webhookLogRepo) Create(ctx context.Context, entry model.WebhookLog) (model.WebhookLog, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO webhook_logs (id, tenant_id, integration_id, event_type, payload, processed, error, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, '', $6)
	`
	_, err := r.db.Pool.Exec(ctx, query, entry.ID, entry.TenantID, entry.IntegrationID, entry.EventType, entry.Payload, entry.CreatedAt)
	if err != nil {
		return model.WebhookLog{}, err
	}
	return entry, nil
}

func (r *webhookLogRepo) GetByID(ctx context.Context, id string) (model.WebhookLog, error) {
	query := `
		SELECT id, tenant_id, integration_id, event_type, payload, processed, processed_at, error, created_at
		FROM webhook_logs WHERE id = $1
	`
	var entry model.WebhookLog
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&entry.ID, &entry.TenantID, &entry.IntegrationID, &entry.EventType, &entry.Payload,
		&entry.Processed, &entry.ProcessedAt, &entry.Error, &entry.CreatedAt,
	)
	if err != nil {
		return model.WebhookLog{}, mapError(err)
	}
	return entry, nil
}

func (r *webhookLogRepo) Assign(ctx context.Context, id, tenantID, integrationID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE webhook_logs SET tenant_id = $2, integration_id = $3 WHERE id = $1`,
		id, tenantID, integrationID,
	)
	return err
}

func (r *webhookLogRepo) MarkProcessed(ctx context.Context, id string, success bool, errMsg string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE webhook_logs SET processed = $2, processed_at = $3, error = $4 WHERE id = $1`,
		id, success, time.Now().UTC(), errMsg,
	)
	return err
}
