package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes the repositories care about
const (
	sqlStateUniqueViolation = "23505"
	sqlStateAdminShutdown   = "57P01"
	sqlStateCrashShutdown   = "57P02"
	sqlStateCannotConnect   = "57P03"
)

// SQLState extracts the SQLSTATE code from a pgx or lib/pq error
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	return SQLState(err) == sqlStateUniqueViolation
}

// IsConnectionError reports whether err means the connection (not the statement) failed.
// These are the only errors a reconnect-and-retry can fix.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// a caller's deadline looks like a net.Error but retrying cannot help
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	if code := SQLState(err); code != "" {
		return strings.HasPrefix(code, "08") ||
			code == sqlStateAdminShutdown ||
			code == sqlStateCrashShutdown ||
			code == sqlStateCannotConnect
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
