package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// mapPostgresError converts PostgreSQL errors to engine error types.
// Returns the error wrapped with the operation if it is not a PgError.
func mapPostgresError(err error, table string, op Operation, params []Parameter) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
	switch pgErr.Code {
	case "23505": // unique_violation
		// Detail format: "Key (email)=(test@mail.com) already exists."
		field := extractFieldFromDetail(pgErr.Detail)
		return &UniqueConstraintError{
			Field:      field,
			Value:      paramValue(field, params),
			Table:      table,
			Suggestion: fmt.Sprintf("Use a different value for %s, or update the existing record", field),
		}

	case "23503": // foreign_key_violation
		field := extractFieldFromDetail(pgErr.Detail)
		referenced := extractReferencedTable(pgErr.ConstraintName)
		return &ForeignKeyError{
			Field:           field,
			Value:           paramValue(field, params),
			ReferencedTable: referenced,
			Suggestion:      fmt.Sprintf("Ensure the referenced %s exists before writing this %s", referenced, table),
		}

	case "23502": // not_null_violation
		field := pgErr.ColumnName
		if field == "" {
			field = extractQuoted(pgErr.Message)
		}
		return &NotNullError{
			Field:      field,
			Table:      table,
			Suggestion: fmt.Sprintf("Provide a value for %s (this field is required)", field),
		}

	case "23514": // check_violation
		return &ConstraintError{
			Type:       "check",
			Field:      pgErr.ColumnName,
			Table:      table,
			Suggestion: fmt.Sprintf("Value violates check constraint: %s", pgErr.ConstraintName),
		}

	case "42P01": // undefined_table
		return &UndefinedObjectError{Kind: "table", Name: table}

	case "42703": // undefined_column
		// Message format: 'column "unknown_field" of relation "users" does not exist'
		return &UndefinedObjectError{Kind: "column", Name: extractQuoted(pgErr.Message)}

	default:
		return fmt.Errorf("%s failed: %s (code: %s): %w", op, pgErr.Message, pgErr.Code, err)
	}
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// extractFieldFromDetail extracts field name from error detail
// Input: "Key (email)=(test@mail.com) already exists."
// Output: "email"
func extractFieldFromDetail(detail string) string {
	start := strings.Index(detail, "(")
	end := strings.Index(detail, ")")
	if start >= 0 && end > start {
		return detail[start+1 : end]
	}
	return ""
}

// extractReferencedTable tries to extract referenced table from constraint name
// Input: "fk_posts_author_id_users"
// Output: "users"
func extractReferencedTable(constraintName string) string {
	parts := strings.Split(constraintName, "_")
	if len(parts) >= 4 && parts[0] == "fk" {
		return parts[len(parts)-1]
	}
	return ""
}

// extractQuoted returns the first double- or back-quoted token of a message.
func extractQuoted(message string) string {
	for _, q := range []string{`"`, "'", "`"} {
		start := strings.Index(message, q)
		if start < 0 {
			continue
		}
		if end := strings.Index(message[start+1:], q); end >= 0 {
			return message[start+1 : start+1+end]
		}
	}
	return ""
}

// paramValue finds the value bound for a physical field, whatever prefix
// the compiler gave the parameter.
func paramValue(field string, params []Parameter) interface{} {
	if field == "" {
		return nil
	}
	for _, p := range params {
		name := strings.TrimPrefix(p.Name, "@")
		if strings.EqualFold(name, field) || strings.EqualFold(name, "p"+field) {
			return p.Value
		}
	}
	return nil
}
