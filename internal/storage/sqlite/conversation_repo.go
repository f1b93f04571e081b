package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

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
	now := formatTime(time.Now())

	query := `
		INSERT INTO conversations (id, tenant_id, channel, contact_key, contact_phone, contact_name, avatar_url,
			unread_count, total_messages, last_message_content, status, integration_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '', 'open', ?, ?, ?)
		ON CONFLICT (tenant_id, channel, contact_key) DO UPDATE SET
			contact_phone = CASE WHEN excluded.contact_phone <> '' THEN excluded.contact_phone ELSE conversations.contact_phone END,
			contact_name = CASE WHEN excluded.contact_name <> '' THEN excluded.contact_name ELSE conversations.contact_name END,
			avatar_url = CASE WHEN excluded.avatar_url <> '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			integration_id = CASE WHEN excluded.integration_id <> '' THEN excluded.integration_id ELSE conversations.integration_id END,
			updated_at = excluded.updated_at
		RETURNING ` + conversationColumns

	row := r.db.Conn.QueryRowContext(ctx, query,
		newID, conv.TenantID, conv.Channel, conv.ContactKey, conv.ContactPhone, conv.ContactName, conv.AvatarURL, conv.IntegrationID, now, now,
	)
	out, err := scanConversation(row)
	if err != nil {
		return model.Conversation{}, false, err
	}
	return out, out.ID == newID, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (model.Conversation, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	return conv, mapError(err)
}

func (r *conversationRepo) GetByContact(ctx context.Context, tenantID string, channel model.Channel, contactKey string) (model.Conversation, error) {
	row := r.db.Conn.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND channel = ? AND contact_key = ?`,
		tenantID, channel, contactKey,
	)
	conv, err := scanConversation(row)
	return conv, mapError(err)
}

func (r *conversationRepo) RecordMessage(ctx context.Context, id, preview string, at time.Time, inbound bool) error {
	query := `
		UPDATE conversations SET
			total_messages = total_messages + 1,
			unread_count = unread_count + ?,
			last_message_content = ?,
			last_message_at = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.Conn.ExecContext(ctx, query, boolToInt(inbound), preview, formatTime(at), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepo) ListByTenant(ctx context.Context, tenantID string) ([]model.Conversation, error) {
	rows, err := r.db.Conn.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? ORDER BY updated_at DESC LIMIT 200`,
		tenantID,
	)
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

func scanConversation(row rowScanner) (model.Conversation, error) {
	var (
		conv                 model.Conversation
		lastAt               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&conv.ID, &conv.TenantID, &conv.Channel, &conv.ContactKey, &conv.ContactPhone, &conv.ContactName, &conv.AvatarURL,
		&conv.UnreadCount, &conv.TotalMessages, &conv.LastMessageContent, &lastAt, &conv.Status, &conv.IntegrationID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return model.Conversation{}, err
	}
	conv.LastMessageAt = parseNullTime(lastAt)
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return conv, nil
}
