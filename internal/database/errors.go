package database

import (
	"context"
	"errors"
	"fmt"

	"arbiter/internal/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// isLockTimeout reports driver errors meaning "another writer holds the lock
// for too long". They are retryable from the caller's point of view.
func isLockTimeout(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return true
		}
	}
	return false
}

// isForeignKeyViolation reports a missing referenced row.
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1452
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

// wrapTxError wraps a storage error with op, translating deadline and lock
// errors to domain.ErrTimeout. Domain errors pass through unchanged.
func wrapTxError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrInvalidTransition):
		return err
	case errors.Is(err, context.DeadlineExceeded), isLockTimeout(err):
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTimeout, err)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, domain.ErrRoomNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
