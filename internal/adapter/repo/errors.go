package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"nero/internal/domain"
)

const pgUniqueViolation = "23505"

// mapInsertError turns a unique-key conflict into domain.ErrDuplicateOperation.
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ErrDuplicateOperation
	}
	return err
}
