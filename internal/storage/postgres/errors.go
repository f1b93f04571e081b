package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/open-apime/crmhub/internal/storage/model"
)

var ErrNotFound = model.ErrNotFound

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
