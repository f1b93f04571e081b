package sqlite

import (
	"context"
	"database/sql"
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
		VALUES (?, ?, ?, ?, ?, 0, '', ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.IntegrationID, entry.EventType, entry.Payload, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return model.WebhookLog{}, err
	}
	return entry, nil
}

func (r *webhookLogRepo) GetByID(ctx context.Context, id string) (model.WebhookLog, error) {
	query := `
		SELECT id, tenant_id, integration_id, event_type, payload, processed, processed_at, error, created_at
		FROM webhook_logs WHERE id = ?
	`
	var (
		entry       model.WebhookLog
		processed   int
		processedAt sql.NullString
		createdAt   string
	)
	err := r.db.Conn.QueryRowContext(ctx, query, id).Scan(
		&entry.ID, &entry.TenantID, &entry.IntegrationID, &entry.EventType, &entry.Payload,
		&processed, &processedAt, &entry.Error, &createdAt,
	)
	if err != nil {
		return model.WebhookLog{}, mapError(err)
	}
	entry.Processed = processed == 1
	entry.ProcessedAt = parseNullTime(processedAt)
	entry.CreatedAt = parseTime(createdAt)
	return entry, nil
}

func (r *webhookLogRepo) Assign(ctx context.Context, id, tenantID, integrationID string) error {
	_, err := r.db.Conn.ExecContext(ctx,
		`UPDATE webhook_logs SET tenant_id = ?, integration_id = ? WHERE id = ?`,
		tenantID, integrationID, id,
	)
	return err
}

func (r *webhookLogRepo) MarkProcessed(ctx context.Context, id string, success bool, errMsg string) error {
	_, err := r.db.Conn.ExecContext(ctx,
		`UPDATE webhook_logs SET processed = ?, processed_at = ?, error = ? WHERE id = ?`,
		boolToInt(success), formatTime(time.Now()), errMsg, id,
	)
	return err
}
