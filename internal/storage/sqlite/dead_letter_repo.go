package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type deadLetterRepo struct {
	db *DB
}

func NewDeadLetterRepository(db *DB) *deadLetterRepo {
	return &deadLetterRepo{db: db}
}

func (r *deadLetterRepo) Create(ctx context.Context, letter model.DeadLetter) (model.DeadLetter, error) {
	if letter.ID == "" {
		letter.ID = uuid.New().String()
	}
	letter.CreatedAt = time.Now().UTC()

	_, err := r.db.Conn.ExecContext(ctx,
		`INSERT INTO dead_letters (id, webhook_log_id, integration_id, route_token, reason, detail, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		letter.ID, letter.WebhookLogID, letter.IntegrationID, letter.RouteToken, letter.Reason, letter.Detail, letter.Payload,
		formatTime(letter.CreatedAt),
	)
	if err != nil {
		return model.DeadLetter{}, err
	}
	return letter, nil
}

func (r *deadLetterRepo) GetByID(ctx context.Context, id string) (model.DeadLetter, error) {
	row := r.db.Conn.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id,
	)
	letter, err := scanDeadLetter(row)
	return letter, mapError(err)
}

func (r *deadLetterRepo) List(ctx context.Context, includeResolved bool, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE ? = 1 OR resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT ?
	`, boolToInt(includeResolved), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DeadLetter
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, letter)
	}
	return out, rows.Err()
}

func (r *deadLetterRepo) MarkResolved(ctx context.Context, id string) error {
	res, err := r.db.Conn.ExecContext(ctx, `UPDATE dead_letters SET resolved_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const deadLetterColumns = `id, webhook_log_id, integration_id, route_token, reason, detail, payload, created_at, resolved_at`

func scanDeadLetter(row rowScanner) (model.DeadLetter, error) {
	var (
		letter     model.DeadLetter
		createdAt  string
		resolvedAt sql.NullString
	)
	if err := row.Scan(
		&letter.ID, &letter.WebhookLogID, &letter.IntegrationID, &letter.RouteToken,
		&letter.Reason, &letter.Detail, &letter.Payload, &createdAt, &resolvedAt,
	); err != nil {
		return model.DeadLetter{}, err
	}
	letter.CreatedAt = parseTime(createdAt)
	letter.ResolvedAt = parseNullTime(resolvedAt)
	return letter, nil
}
