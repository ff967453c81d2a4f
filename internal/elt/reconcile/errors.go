package reconcile

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// IsInvariantViolation reports whether err came from a unique constraint,
// which for a versioned table means a second current row was attempted for
// one natural key.
func IsInvariantViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
