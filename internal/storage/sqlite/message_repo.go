package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, external_message_id) WHERE external_message_id <> '' DO NOTHING
	`
	res, err := r.db.Conn.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.TenantID, msg.Direction, msg.MessageType, msg.Content, msg.MediaURL, msg.MimeType,
		msg.Status, msg.ExternalMessageID, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return model.Message{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return msg, true, nil
	}

	row := r.db.Conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND external_message_id = ?`,
		msg.ConversationID, msg.ExternalMessageID,
	)
	existing, err := scanMessage(row)
	if err != nil {
		return model.Message{}, false, mapError(err)
	}
	return existing, false, nil
}

func (r *messageRepo) GetByExternalID(ctx context.Context, tenantID, externalID string) (model.Message, error) {
	row := r.db.Conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE tenant_id = ? AND external_message_id = ? ORDER BY created_at DESC LIMIT 1`,
		tenantID, externalID,
	)
	msg, err := scanMessage(row)
	return msg, mapError(err)
}

func (r *messageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	res, err := r.db.Conn.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`,
		conversationID, limit,
	)
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

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		msg       model.Message
		createdAt string
	)
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.TenantID, &msg.Direction, &msg.MessageType, &msg.Content, &msg.MediaURL,
		&msg.MimeType, &msg.Status, &msg.ExternalMessageID, &createdAt,
	)
	if err != nil {
		return model.Message{}, err
	}
	msg.CreatedAt = parseTime(createdAt)
	return msg, nil
}
