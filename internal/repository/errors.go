package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConstraint - запись нарушает ограничение схемы (CHECK/FK).
	ErrConstraint = errors.New("constraint violation")
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// mapPgError переводит ошибки ограничений в ошибки репозитория, остальное как есть.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		return ErrNotFound
	case pgCheckViolation, pgUniqueViolation:
		return errors.Join(ErrConstraint, err)
	default:
		return err
	}
}
