package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/artpar/apiforge/core/apierror"
)

// Error is an engine failure that fits no category of the taxonomy. Its
// message names the operation only; the cause is kept for logs.
type Error struct {
	Op     string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("storage %s failed", e.Op)
	}
	return fmt.Sprintf("storage %s on %s failed", e.Op, e.Entity)
}

func (e *Error) Unwrap() error { return e.Err }

// translate converts an engine error into the error taxonomy. Errors that
// already belong to the taxonomy pass through unchanged.
func translate(op, entity string, err error) error {
	if err == nil {
		return nil
	}

	if apierror.IsValidation(err) || apierror.IsNotFound(err) || apierror.IsConflict(err) ||
		apierror.IsUnavailable(err) || apierror.IsPolicyDenied(err) {
		return err
	}

	unavailable := func() error {
		return &apierror.PersistenceUnavailableError{Op: op, Err: err}
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &apierror.NotFoundError{Entity: entity}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return unavailable()
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return unavailable()
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			field := sqliteConstraintField(se.Error())
			switch se.ExtendedCode {
			case sqlite3.ErrConstraintNotNull:
				return apierror.NewValidation(field, "required", "is required")
			case sqlite3.ErrConstraintCheck:
				return apierror.NewValidation(field, "check", "violates a check constraint")
			}
			return &apierror.ConflictError{Entity: entity, Field: field, Reason: constraintReason(se.ExtendedCode == sqlite3.ErrConstraintForeignKey)}
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrProtocol:
			return unavailable()
		}
		return &Error{Op: op, Entity: entity, Err: err}
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "23505":
			return &apierror.ConflictError{Entity: entity, Field: pgConstraintField(pe), Reason: constraintReason(false)}
		case pe.Code == "23503":
			return &apierror.ConflictError{Entity: entity, Field: pe.ColumnName, Reason: constraintReason(true)}
		case pe.Code == "23502":
			return apierror.NewValidation(pe.ColumnName, "required", "is required")
		case pe.Code == "23514":
			return apierror.NewValidation(pe.ColumnName, "check", "violates a check constraint")
		case strings.HasPrefix(pe.Code, "08"),
			pe.Code == "57P01", pe.Code == "57P02", pe.Code == "57P03",
			pe.Code == "57014", pe.Code == "40001", pe.Code == "40P01", pe.Code == "53300":
			return unavailable()
		}
		return &Error{Op: op, Entity: entity, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return unavailable()
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return unavailable()
	}

	return &Error{Op: op, Entity: entity, Err: err}
}

func constraintReason(foreignKey bool) string {
	if foreignKey {
		return "referenced record does not exist or is still referenced"
	}
	return "value already exists"
}

// sqliteConstraintField extracts the column from messages such as
// "UNIQUE constraint failed: authors.email".
func sqliteConstraintField(msg string) string {
	i := strings.LastIndex(msg, ": ")
	if i < 0 {
		return ""
	}
	cols := msg[i+2:]
	if j := strings.Index(cols, ","); j >= 0 {
		cols = cols[:j]
	}
	if j := strings.LastIndex(cols, "."); j >= 0 {
		return cols[j+1:]
	}
	return ""
}

// pgConstraintField recovers the column from the unique index names
// created by Migrate.
func pgConstraintField(pe *pgconn.PgError) string {
	if pe.ColumnName != "" {
		return pe.ColumnName
	}
	prefix := uniqueIndexPrefix + pe.TableName + "_"
	if strings.HasPrefix(pe.ConstraintName, prefix) {
		return strings.TrimPrefix(pe.ConstraintName, prefix)
	}
	return ""
}
