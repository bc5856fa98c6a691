package database

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a row is absent or not owned by the caller.
var ErrNotFound = errors.New("not found")

// Postgres SQLSTATE codes the API translates for clients.
const (
	codeUniqueViolation     = "23505"
	codeNotNullViolation    = "23502"
	codeForeignKeyViolation = "23503"
)

// Constraint kinds.
const (
	KindUnique     = "unique"
	KindNotNull    = "not_null"
	KindForeignKey = "foreign_key"
)

// ConstraintError is a constraint violation raised by the database.
type ConstraintError struct {
	Kind       string
	Constraint string
	Column     string
	Err        error
}

func (e *ConstraintError) Error() string {
	target := e.Constraint
	if target == "" {
		target = e.Column
	}
	return fmt.Sprintf("%s violation on %s: %v", e.Kind, target, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

var columnPattern = regexp.MustCompile(`column "([^"]+)"`)

// classify converts pgx errors into ErrNotFound or *ConstraintError and
// returns any other error unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	ce := &ConstraintError{Constraint: pgErr.ConstraintName, Column: pgErr.ColumnName, Err: err}
	switch pgErr.Code {
	case codeUniqueViolation:
		ce.Kind = KindUnique
	case codeNotNullViolation:
		ce.Kind = KindNotNull
		if ce.Column == "" {
			if m := columnPattern.FindStringSubmatch(pgErr.Message); m != nil {
				ce.Column = m[1]
			}
		}
	case codeForeignKeyViolation:
		ce.Kind = KindForeignKey
	default:
		return err
	}
	return ce
}
