package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mapMySQLError converts server error numbers into engine error types.
func mapMySQLError(err error, table string, op Operation, params []Parameter) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	switch myErr.Number {
	case 1062: // ER_DUP_ENTRY: Duplicate entry 'x' for key 'customer.email'
		msg := myErr.Message
		if i := strings.LastIndex(msg, " for key "); i >= 0 {
			msg = msg[i:]
		}
		field := extractQuoted(msg)
		if i := strings.LastIndex(field, "."); i >= 0 {
			field = field[i+1:]
		}
		return &UniqueConstraintError{
			Field:      field,
			Value:      paramValue(field, params),
			Table:      table,
			Suggestion: fmt.Sprintf("Use a different value for %s, or update the existing record", field),
		}
	case 1451, 1452: // ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
		return &ForeignKeyError{
			Field:      extractFieldFromDetail(myErr.Message[strings.Index(myErr.Message, "FOREIGN KEY")+1:]),
			Suggestion: fmt.Sprintf("Ensure the referenced rows exist before writing this %s", table),
		}
	case 1048: // ER_BAD_NULL_ERROR: Column 'name' cannot be null
		field := extractQuoted(myErr.Message)
		return &NotNullError{
			Field:      field,
			Table:      table,
			Suggestion: fmt.Sprintf("Provide a value for %s (this field is required)", field),
		}
	case 3819: // ER_CHECK_CONSTRAINT_VIOLATED
		return &ConstraintError{Type: "check", Table: table, Suggestion: myErr.Message}
	case 1146: // ER_NO_SUCH_TABLE
		return &UndefinedObjectError{Kind: "table", Name: table}
	case 1054: // ER_BAD_FIELD_ERROR
		return &UndefinedObjectError{Kind: "column", Name: extractQuoted(myErr.Message)}
	default:
		return fmt.Errorf("%s failed: %s (code: %d): %w", op, myErr.Message, myErr.Number, err)
	}
}
