package db

import (
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

// DuplicateError reports which column a unique constraint fired on.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDuplicate.Error(), e.Field)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

func IsUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// duplicateFromError converts a unique-constraint failure into a
// DuplicateError. SQLite reports "UNIQUE constraint failed: identities.email".
func duplicateFromError(err error) error {
	if !IsUniqueConstraintError(err) {
		return nil
	}

	field := ""
	msg := err.Error()
	if idx := strings.LastIndex(msg, ":"); idx != -1 {
		column := strings.TrimSpace(msg[idx+1:])
		if first, _, ok := strings.Cut(column, ","); ok {
			column = first
		}
		if dot := strings.LastIndex(column, "."); dot != -1 {
			column = column[dot+1:]
		}
		field = column
	}

	return &DuplicateError{Field: field}
}
