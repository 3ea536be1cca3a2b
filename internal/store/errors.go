package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

// SQLSTATE codes and classes that decide how an import reacts.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	classDataException       = "22"
	classIntegrityViolation  = "23"
)

// classify maps a PostgreSQL error onto the import error taxonomy. Lost
// races become *core.ConflictError, bad data becomes *core.ValidationError
// and anything else is returned as is. desc, when set, maps the failing
// column back to its field name.
func classify(desc *core.TypeDescriptor, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected:
		return &core.ConflictError{Err: err}
	case strings.HasPrefix(pgErr.Code, classDataException), strings.HasPrefix(pgErr.Code, classIntegrityViolation):
		return &core.ValidationError{
			Field:   fieldForColumn(desc, pgErr.ColumnName),
			Message: validationMessage(pgErr),
			Err:     err,
		}
	default:
		return err
	}
}

func validationMessage(pgErr *pgconn.PgError) string {
	if pgErr.Detail != "" {
		return pgErr.Message + ": " + pgErr.Detail
	}
	return pgErr.Message
}

func fieldForColumn(desc *core.TypeDescriptor, column string) string {
	if column == "" || desc == nil {
		return column
	}
	for _, spec := range desc.FieldSpecs {
		if spec.Column() == column {
			return spec.Name
		}
	}
	return column
}
