package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type conversationRepo struct {
	db *DB
}

func NewConversationRepository(db *DB) *conversationRepo {
	return &conversationRepo{db: db}
}

const conversationColumns = `id, tenant_id, channel, contact_key, contact_phone, contact_name, avatar_url,
	unread_count, total_messages, last_message_content, last_message_at, status, integration_id, created_at, updated_at`

func (r *conversationRepo) Upsert(ctx context.Context, conv model.Conversation) (model.Conversation, bool, error) {
	newID := uuid.New().String()
	now := time.Now().UTC()

	// O id gerado só volta no RETURNING quando a linha foi inserida agora.
	query := `
		INSERT INTO conversations (id, tenant_id, channel, contact_key, contact_phone, contact_name, avatar_url,
			unread_count, total_messages, last_message_content, status, integration_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, '', 'open', $8, $9, $9)
		ON CONFLICT (tenant_id, channel, contact_key) DO UPDATE SET
			contact_phone = CASE WHEN EXCLUDED.contact_phone <> '' THEN EXCLUDED.contact_phone ELSE conversations.contact_phone END,
			contact_name = CASE WHEN EXCLUDED.contact_name <> '' THEN EXCLUDED.contact_name ELSE conversations.contact_name END,
			avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE conversations.avatar_url END,
			integration_id = CASE WHEN EXCLUDED.integration_id <> '' THEN EXCLUDED.integration_id ELSE conversations.integration_id END,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + conversationColumns

	row := r.db.Pool.QueryRow(ctx, query,
		newID, conv.TenantID, conv.Channel, conv.ContactKey, conv.ContactPhone, conv.ContactName, conv.AvatarURL, conv.IntegrationID, now,
	)
	out, err := scanConversation(row)
	if err != nil {
		return model.Conversation{}, false, err
	}
	return out, out.ID == newID, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(r.db.Pool.QueryRow(ctx, query, id))
	return conv, mapError(err)
}

func (r *conversationRepo) GetByContact(ctx context.Context, tenantID string, channel model.Channel, contactKey string) (model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = $1 AND channel = $2 AND contact_key = $3`
	conv, err := scanConversation(r.db.Pool.QueryRow(ctx, query, tenantID, channel, contactKey))
	return conv, mapError(err)
}

func (r *conversationRepo) RecordMessage(ctx context.Context, id, preview string, at time.Time, inbound bool) error {
	query := `
		UPDATE conversations SET
			total_messages = total_messages + 1,
			unread_count = unread_count + CASE WHEN $2 THEN 1 ELSE 0 END,
			last_message_content = $3,
			last_message_at = $4,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, inbound, preview, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepo) ListByTenant(ctx context.Context, tenantID string) ([]model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = $1 ORDER BY updated_at DESC LIMIT 200`
	rows, err := r.db.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (model.Conversation, error) {
	var conv model.Conversation
	err := row.Scan(
		&conv.ID, &conv.TenantID, &conv.Channel, &conv.ContactKey, &conv.ContactPhone, &conv.ContactName, &conv.AvatarURL,
		&conv.UnreadCount, &conv.TotalMessages, &conv.LastMessageContent, &conv.LastMessageAt, &conv.Status, &conv.IntegrationID,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	return conv, err
}
