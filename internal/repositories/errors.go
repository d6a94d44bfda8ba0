package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
