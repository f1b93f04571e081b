package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type deadLetterRepo struct {
	db *DB
}

func NewDeadLetterRepository(db *DB) *deadLetterRepo {
	return &deadLetterRepo{db: db}
}

const deadLetterColumns = `id, webhook_log_id, integration_id, route_token, reason, detail, payload, created_at, resolved_at`

func scanDeadLetter(row pgx.Row) (model.DeadLetter, error) {
	var letter model.DeadLetter
	err := row.Scan(
		&letter.ID, &letter.WebhookLogID, &letter.IntegrationID, &letter.RouteToken,
		&letter.Reason, &letter.Detail, &letter.Payload, &letter.CreatedAt, &letter.ResolvedAt,
	)
	return letter, err
}

func (r *deadLetterRepo) Create(ctx context.Context, letter model.DeadLetter) (model.DeadLetter, error) {
	if letter.ID == "" {
		letter.ID = uuid.New().String()
	}
	letter.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO dead_letters (id, webhook_log_id, integration_id, route_token, reason, detail, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		letter.ID, letter.WebhookLogID, letter.IntegrationID, letter.RouteToken, letter.Reason, letter.Detail, letter.Payload, letter.CreatedAt,
	)
	if err != nil {
		return model.DeadLetter{}, err
	}
	return letter, nil
}

func (r *deadLetterRepo) GetByID(ctx context.Context, id string) (model.DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`
	letter, err := scanDeadLetter(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return model.DeadLetter{}, mapError(err)
	}
	return letter, nil
}

func (r *deadLetterRepo) List(ctx context.Context, includeResolved bool, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letters
		WHERE $1 OR resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, includeResolved, limit)
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
	tag, err := r.db.Pool.Exec(ctx, `UPDATE dead_letters SET resolved_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
