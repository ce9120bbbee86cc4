package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// ServiceError is implemented by every typed error of the engine.
type ServiceError interface {
	error
	Code() string
}

// ============================================================
// CONFIGURATION AND CONTRACT ERRORS
// ============================================================

// MissingConfigurationError is raised when a required setting is absent.
type MissingConfigurationError struct {
	Setting string
	Hint    string
}

func (e *MissingConfigurationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("missing configuration setting '%s' (%s)", e.Setting, e.Hint)
	}
	return fmt.Sprintf("missing configuration setting '%s'", e.Setting)
}

func (e *MissingConfigurationError) Code() string { return "MISSING_CONFIGURATION" }

// UnsupportedCommandObjectError is raised when a command was shaped for
// another compiler or backend.
type UnsupportedCommandObjectError struct {
	Command string
	Reason  string
}

func (e *UnsupportedCommandObjectError) Error() string {
	return fmt.Sprintf("unsupported command object %q: %s", e.Command, e.Reason)
}

func (e *UnsupportedCommandObjectError) Code() string { return "UNSUPPORTED_COMMAND_OBJECT" }

// UnsupportedProcessMethodError is raised on access-policy violations and
// unrecognised processing modes.
type UnsupportedProcessMethodError struct {
	Method string
	Reason string
}

func (e *UnsupportedProcessMethodError) Error() string {
	return fmt.Sprintf("unsupported process method '%s': %s", e.Method, e.Reason)
}

func (e *UnsupportedProcessMethodError) Code() string { return "UNSUPPORTED_PROCESS_METHOD" }

// TransactionConflictError is raised when a second transaction is started
// on a service that already has one.
type TransactionConflictError struct {
	Isolation string
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("a transaction (isolation %s) is already active on this service; commit or abort it first", e.Isolation)
}

func (e *TransactionConflictError) Code() string { return "TRANSACTION_CONFLICT" }

// ConnectionInvalidError wraps connect and open failures.
type ConnectionInvalidError struct {
	Driver     string
	Diagnostic string
	Err        error
}

func (e *ConnectionInvalidError) Error() string {
	msg := fmt.Sprintf("cannot open %s connection", e.Driver)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionInvalidError) Unwrap() error { return e.Err }

func (e *ConnectionInvalidError) Code() string { return "CONNECTION_INVALID" }

// ============================================================
// DATABASE CONSTRAINT ERRORS
// ============================================================

// UniqueConstraintError represents a unique constraint violation
type UniqueConstraintError struct {
	Field      string
	Value      interface{}
	Table      string
	Suggestion string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("unique constraint violation on field '%s' in table '%s' (value: %v)", e.Field, e.Table, e.Value)
}

func (e *UniqueConstraintError) Code() string { return "UNIQUE_CONSTRAINT" }

// ForeignKeyError represents a foreign key constraint violation
type ForeignKeyError struct {
	Field           string
	Value           interface{}
	ReferencedTable string
	Suggestion      string
}

func (e *ForeignKeyError) Error() string {
	if e.ReferencedTable == "" {
		return fmt.Sprintf("foreign key violation on field '%s' (value: %v)", e.Field, e.Value)
	}
	return fmt.Sprintf("foreign key violation on field '%s' referencing '%s' (value: %v)", e.Field, e.ReferencedTable, e.Value)
}

func (e *ForeignKeyError) Code() string { return "FOREIGN_KEY" }

// NotNullError represents a NOT NULL constraint violation
type NotNullError struct {
	Field      string
	Table      string
	Suggestion string
}

func (e *NotNullError) Error() string {
	return fmt.Sprintf("field '%s' cannot be null", e.Field)
}

func (e *NotNullError) Code() string { return "NOT_NULL" }

// ConstraintError covers CHECK and other named constraints
type ConstraintError struct {
	Type       string
	Field      string
	Table      string
	Suggestion string
}

func (e *ConstraintError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s constraint violation in table '%s'", e.Type, e.Table)
	}
	return fmt.Sprintf("%s constraint violation on field '%s' in table '%s'", e.Type, e.Field, e.Table)
}

func (e *ConstraintError) Code() string { return "CONSTRAINT" }

// UndefinedObjectError reports a missing table or column on the server.
type UndefinedObjectError struct {
	Kind string // "table" or "column"
	Name string
}

func (e *UndefinedObjectError) Error() string {
	return fmt.Sprintf("%s '%s' does not exist", e.Kind, e.Name)
}

func (e *UndefinedObjectError) Code() string { return "UNDEFINED_OBJECT" }

// ============================================================
// FORMATTING
// ============================================================

// ErrorCode returns the Code() of the first ServiceError in the chain
func ErrorCode(err error) string {
	var se ServiceError
	if errors.As(err, &se) {
		return se.Code()
	}
	return ""
}

// FormatError renders an error for terminal output
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder

	errorColor := color.New(color.FgRed, color.Bold)
	errorColor.Fprintf(&b, "Error: ")
	fmt.Fprintf(&b, "%s\n", err.Error())

	if code := ErrorCode(err); code != "" {
		codeColor := color.New(color.FgCyan)
		codeColor.Fprintf(&b, "  --> ")
		fmt.Fprintf(&b, "%s\n", code)
	}

	if suggestion := suggestionOf(err); suggestion != "" {
		b.WriteString("\n")
		helpColor := color.New(color.FgYellow, color.Bold)
		helpColor.Fprintf(&b, "  Help: ")
		fmt.Fprintf(&b, "%s\n", strings.ReplaceAll(suggestion, "\n", "\n  "))
	}

	return b.String()
}

func suggestionOf(err error) string {
	var (
		unique  *UniqueConstraintError
		fk      *ForeignKeyError
		notNull *NotNullError
		check   *ConstraintError
		missing *MissingConfigurationError
	)
	switch {
	case errors.As(err, &unique):
		return unique.Suggestion
	case errors.As(err, &fk):
		return fk.Suggestion
	case errors.As(err, &notNull):
		return notNull.Suggestion
	case errors.As(err, &check):
		return check.Suggestion
	case errors.As(err, &missing):
		return missing.Hint
	}
	return ""
}
