package database

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNoRows is returned when a query expected to return a row returns none.
	ErrNoRows = errors.New("no rows in result set")
	// ErrUniqueViolation wraps driver errors raised by a unique constraint or index.
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// IsNoRows reports whether err means an empty result for either driver.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNoRows)
}

// IsUniqueViolation reports whether err was translated from a unique
// constraint failure by one of the drivers.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// UniqueViolationError keeps the driver error while matching ErrUniqueViolation.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	if e.Constraint != "" {
		return "unique constraint " + e.Constraint + " violated: " + e.Err.Error()
	}
	return "unique constraint violated: " + e.Err.Error()
}

func (e *UniqueViolationError) Unwrap() []error {
	return []error{ErrUniqueViolation, e.Err}
}
