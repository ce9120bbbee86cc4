package engine

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

// sqlite extended result codes
const (
	sqliteConstraint           = 19
	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintNotNull    = 1299
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// mapSQLiteError converts sqlite constraint failures into engine error types.
func mapSQLiteError(err error, table string, op Operation, params []Parameter) error {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	msg := liteErr.Error()
	switch constraintCode(liteErr.Code(), msg) {
	case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
		field := constrainedColumn(msg)
		return &UniqueConstraintError{
			Field:      field,
			Value:      paramValue(field, params),
			Table:      table,
			Suggestion: fmt.Sprintf("Use a different value for %s, or update the existing record", field),
		}
	case sqliteConstraintForeignKey:
		return &ForeignKeyError{Suggestion: fmt.Sprintf("Ensure the referenced rows exist before writing this %s", table)}
	case sqliteConstraintNotNull:
		field := constrainedColumn(msg)
		return &NotNullError{
			Field:      field,
			Table:      table,
			Suggestion: fmt.Sprintf("Provide a value for %s (this field is required)", field),
		}
	case sqliteConstraintCheck:
		return &ConstraintError{Type: "check", Table: table, Suggestion: msg}
	}

	if strings.Contains(msg, "no such table") {
		return &UndefinedObjectError{Kind: "table", Name: table}
	}
	if strings.Contains(msg, "no such column") || strings.Contains(msg, "has no column named") {
		return &UndefinedObjectError{Kind: "column", Name: lastToken(msg)}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// constraintCode returns the extended constraint code, recovering it from
// the message when the connection reports primary codes only.
func constraintCode(code int, msg string) int {
	if code != sqliteConstraint {
		return code
	}
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return sqliteConstraintUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return sqliteConstraintForeignKey
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return sqliteConstraintNotNull
	case strings.Contains(msg, "CHECK constraint failed"):
		return sqliteConstraintCheck
	}
	return code
}

// constrainedColumn extracts "email" from
// "constraint failed: UNIQUE constraint failed: customer.email (2067)".
func constrainedColumn(msg string) string {
	i := strings.LastIndex(msg, "failed: ")
	if i < 0 {
		return ""
	}
	target := msg[i+len("failed: "):]
	if j := strings.Index(target, " "); j >= 0 {
		target = target[:j]
	}
	target = strings.TrimSuffix(target, ",")
	if j := strings.LastIndex(target, "."); j >= 0 {
		target = target[j+1:]
	}
	return target
}

func lastToken(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.Index(msg, " ("); i >= 0 {
		msg = msg[:i]
	}
	if i := strings.LastIndex(msg, " "); i >= 0 {
		return msg[i+1:]
	}
	return msg
}
