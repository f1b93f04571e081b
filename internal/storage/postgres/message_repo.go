package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type messageRepo struct {
	db *DB
}

func NewMessageRepository(db *DB) *messageRepo {
	return &messageRepo{db: db}
}

const messageColumns = `id, conversation_id, tenant_id, direction, message_type, content, media_url, mime_type, status, external_message_id, created_at`

func (r *messageRepo) Insert(ctx context.Context, msg model.Message) (model.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (conversation_id, external_message_id) WHERE external_message_id <> '' DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.TenantID, msg.Direction, msg.MessageType, msg.Content, msg.MediaURL, msg.MimeType,
		msg.Status, msg.ExternalMessageID, msg.CreatedAt,
	)
	if err != nil {
		return model.Message{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return msg, true, nil
	}

	existing, err := scanMessage(r.db.Pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND external_message_id = $2`,
		msg.ConversationID, msg.ExternalMessageID,
	))
	if err != nil {
		return model.Message{}, false, mapError(err)
	}
	return existing, false, nil
}

func (r *messageRepo) GetByExternalID(ctx context.Context, tenantID, externalID string) (model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND external_message_id = $2 ORDER BY created_at DESC LIMIT 1`
	msg, err := scanMessage(r.db.Pool.QueryRow(ctx, query, tenantID, externalID))
	return msg, mapError(err)
}

func (r *messageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE messages SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var msg model.Message
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.TenantID, &msg.Direction, &msg.MessageType, &msg.Content, &msg.MediaURL,
		&msg.MimeType, &msg.Status, &msg.ExternalMessageID, &msg.CreatedAt,
	)
	return msg, err
}
