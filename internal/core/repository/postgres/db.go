package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/lib/pq"
)

// SQLSTATE codes that mean "another writer got there first, retry".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeQueryCanceled        = "57014"
)

// mapError translates driver errors into the ledger taxonomy. Errors that
// already carry a ledger sentinel pass through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%s: %w (%s)", op, models.ErrConcurrencyConflict, pqErr.Message)
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, models.ErrConcurrencyConflict, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
