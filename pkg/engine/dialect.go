package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect renders backend-specific SQL fragments and binds arguments.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver registered for the backend.
	DriverName() string
	QuoteIdent(name string) string
	// Placeholder renders the parameter at 1-based position ordinal.
	Placeholder(name string, ordinal int) string
	BindArg(p Parameter) interface{}
	// IdentityClause is appended to an INSERT to return the generated key.
	// An empty clause means the driver reports it through LastInsertId.
	IdentityClause(keyColumn string) string
	// ProcedureCall renders a stored-procedure invocation. Reads are
	// rendered so that the procedure's result set is returned.
	ProcedureCall(name string, op Operation, params []Parameter) (string, error)
	ApplyRole(ctx context.Context, conn *sql.Conn, role AppRole) error
	MapError(err error, table string, op Operation, params []Parameter) error
}

const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// DialectFor returns the dialect for a configured driver name
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return PostgresDialect{}, nil
	case "mysql", "mariadb":
		return MySQLDialect{}, nil
	case "sqlite", "sqlite3":
		return SQLiteDialect{}, nil
	default:
		return nil, &UnsupportedProcessMethodError{Method: driver, Reason: "unknown database driver (allowed: postgres, mysql, sqlite)"}
	}
}

// Args binds command parameters in order for database/sql
func (c *Command) Args(d Dialect) []interface{} {
	args := make([]interface{}, len(c.Parameters))
	for i, p := range c.Parameters {
		args[i] = d.BindArg(p)
	}
	return args
}

// splitQualified splits "schema.table" into parts, honouring double quotes.
func splitQualified(ident string) []string {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil
	}
	var parts []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(ident)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '"', '`':
			if inQuotes && i+1 < len(runes) && runes[i+1] == r {
				buf.WriteRune(r)
				i++
				continue
			}
			inQuotes = !inQuotes
		case '.':
			if inQuotes {
				buf.WriteRune(r)
				continue
			}
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	return append(parts, strings.TrimSpace(buf.String()))
}

func quoteQualified(ident string, quote string) string {
	parts := splitQualified(ident)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}
	return strings.Join(quoted, ".")
}

func bareName(p Parameter) string {
	return strings.TrimPrefix(p.Name, "@")
}

// ============================================================
// POSTGRES
// ============================================================

type PostgresDialect struct{}

func (PostgresDialect) Name() string       { return DialectPostgres }
func (PostgresDialect) DriverName() string { return "pgx" }

func (PostgresDialect) QuoteIdent(name string) string { return quoteQualified(name, `"`) }

func (PostgresDialect) Placeholder(_ string, ordinal int) string { return fmt.Sprintf("$%d", ordinal) }

func (PostgresDialect) BindArg(p Parameter) interface{} { return p.Value }

func (d PostgresDialect) IdentityClause(keyColumn string) string {
	return " RETURNING " + d.QuoteIdent(keyColumn)
}

// ProcedureCall uses named notation so parameters may be omitted in any
// position. Reads go through set-returning functions.
func (d PostgresDialect) ProcedureCall(name string, op Operation, params []Parameter) (string, error) {
	args := make([]string, len(params))
	for i, p := range params {
		args[i] = fmt.Sprintf("%s => %s", d.QuoteIdent(bareName(p)), d.Placeholder(p.Name, i+1))
	}
	if op == OpSelect {
		return fmt.Sprintf("SELECT * FROM %s(%s)", d.QuoteIdent(name), strings.Join(args, ", ")), nil
	}
	return fmt.Sprintf("CALL %s(%s)", d.QuoteIdent(name), strings.Join(args, ", ")), nil
}

// ApplyRole switches the session role. Postgres roles are granted, so the
// password is not sent.
func (d PostgresDialect) ApplyRole(ctx context.Context, conn *sql.Conn, role AppRole) error {
	if role.IsZero() {
		return nil
	}
	_, err := conn.ExecContext(ctx, "SET ROLE "+d.QuoteIdent(role.Name))
	return err
}

func (PostgresDialect) MapError(err error, table string, op Operation, params []Parameter) error {
	return mapPostgresError(err, table, op, params)
}

// ============================================================
// MYSQL
// ============================================================

type MySQLDialect struct{}

func (MySQLDialect) Name() string       { return DialectMySQL }
func (MySQLDialect) DriverName() string { return "mysql" }

func (MySQLDialect) QuoteIdent(name string) string { return quoteQualified(name, "`") }

func (MySQLDialect) Placeholder(string, int) string { return "?" }

func (MySQLDialect) BindArg(p Parameter) interface{} { return p.Value }

func (MySQLDialect) IdentityClause(string) string { return "" }

// ProcedureCall binds positionally: mysql has no named arguments, so the
// procedure must declare its parameters in emitted order.
func (d MySQLDialect) ProcedureCall(name string, _ Operation, params []Parameter) (string, error) {
	placeholders := make([]string, len(params))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("CALL %s(%s)", d.QuoteIdent(name), strings.Join(placeholders, ", ")), nil
}

func (d MySQLDialect) ApplyRole(ctx context.Context, conn *sql.Conn, role AppRole) error {
	if role.IsZero() {
		return nil
	}
	_, err := conn.ExecContext(ctx, "SET ROLE "+d.QuoteIdent(role.Name))
	return err
}

func (MySQLDialect) MapError(err error, table string, op Operation, params []Parameter) error {
	return mapMySQLError(err, table, op, params)
}

// ============================================================
// SQLITE
// ============================================================

// SQLiteDialect binds named parameters so the command text keeps the
// @name spelling.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string       { return DialectSQLite }
func (SQLiteDialect) DriverName() string { return "sqlite" }

func (SQLiteDialect) QuoteIdent(name string) string { return quoteQualified(name, `"`) }

func (SQLiteDialect) Placeholder(name string, _ int) string {
	return "@" + strings.TrimPrefix(name, "@")
}

func (SQLiteDialect) BindArg(p Parameter) interface{} { return sql.Named(bareName(p), p.Value) }

func (d SQLiteDialect) IdentityClause(keyColumn string) string {
	return " RETURNING " + d.QuoteIdent(keyColumn)
}

func (SQLiteDialect) ProcedureCall(name string, _ Operation, _ []Parameter) (string, error) {
	return "", &UnsupportedProcessMethodError{Method: "storedprocedures", Reason: fmt.Sprintf("sqlite has no stored procedures (%s)", name)}
}

// ApplyRole is a no-op: sqlite has no security contexts.
func (SQLiteDialect) ApplyRole(context.Context, *sql.Conn, AppRole) error { return nil }

func (SQLiteDialect) MapError(err error, table string, op Operation, params []Parameter) error {
	return mapSQLiteError(err, table, op, params)
}
