package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// DatabaseType identifies the database engine
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgresql"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
	Unknown    DatabaseType = "unknown"
)

// Dialect returns the engine dialect name for the database type
func (d DatabaseType) Dialect() (string, error) {
	switch d {
	case PostgreSQL:
		return engine.DialectPostgres, nil
	case MySQL:
		return engine.DialectMySQL, nil
	case SQLite:
		return engine.DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database connection scheme")
	}
}

// ColumnInfo represents a column
type ColumnInfo struct {
	Name          string
	Type          string // DB-specific type (e.g., "varchar", "integer")
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	DefaultVal    *string
	ForeignKey    *ForeignKeyInfo
}

// ForeignKeyInfo represents a foreign key constraint
type ForeignKeyInfo struct {
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
}

// TableInfo represents a table structure
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Querier = engine.Querier

// Introspector is the interface all DB engines must implement
type Introspector interface {
	// ListTables returns all user-defined tables
	ListTables(ctx context.Context) ([]string, error)

	// InspectTable returns detailed structure
	InspectTable(ctx context.Context, tableName string) (*TableInfo, error)
}

// NewIntrospector creates the introspector for an engine dialect
func NewIntrospector(db Querier, dialect string) (Introspector, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	switch strings.ToLower(dialect) {
	case engine.DialectPostgres:
		return &postgresIntrospector{db: db}, nil
	case engine.DialectMySQL:
		return &mysqlIntrospector{db: db}, nil
	case engine.DialectSQLite:
		return &sqliteIntrospector{db: db}, nil
	default:
		return nil, &engine.UnsupportedProcessMethodError{Method: dialect, Reason: "schema discovery is not available for this backend"}
	}
}

// SchemaSource plugs discovery into engine.Service for auto schema
// discovery.
type SchemaSource struct{}

var _ engine.SchemaSource = SchemaSource{}

func (SchemaSource) DescribeTable(ctx context.Context, q engine.Querier, dialect, table string) (*engine.TableSchema, error) {
	in, err := NewIntrospector(q, dialect)
	if err != nil {
		return nil, err
	}
	info, err := in.InspectTable(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.TableSchema(), nil
}

// GetAllTables returns complete schema
func GetAllTables(ctx context.Context, in Introspector) ([]TableInfo, error) {
	tables, err := in.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	var result []TableInfo
	for _, tableName := range tables {
		table, err := in.InspectTable(ctx, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", tableName, err)
		}
		result = append(result, *table)
	}

	return result, nil
}

// Discover describes the named tables, or every table when none are named,
// as engine schemas.
func Discover(ctx context.Context, in Introspector, tables ...string) (*engine.Schema, error) {
	var infos []TableInfo
	if len(tables) == 0 {
		all, err := GetAllTables(ctx, in)
		if err != nil {
			return nil, err
		}
		infos = all
	} else {
		for _, name := range tables {
			info, err := in.InspectTable(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to inspect table %s: %w", name, err)
			}
			infos = append(infos, *info)
		}
	}

	schema := &engine.Schema{}
	for _, info := range infos {
		schema.Tables = append(schema.Tables, info.TableSchema())
	}
	return schema, nil
}

// TableSchema converts the introspected columns to engine fields
func (t TableInfo) TableSchema() *engine.TableSchema {
	ts := &engine.TableSchema{Name: t.Name}
	for _, c := range t.Columns {
		ts.Fields = append(ts.Fields, &engine.Field{
			Name:          c.Name,
			Type:          FieldTypeOf(c.Type),
			Nullable:      c.Nullable,
			Unique:        c.Unique,
			PrimaryKey:    c.PrimaryKey,
			AutoIncrement: c.AutoIncrement,
		})
	}
	return ts
}

// DetectFromConnString identifies DB type from connection string
func DetectFromConnString(connStr string) DatabaseType {
	normalized := strings.ToLower(strings.TrimSpace(connStr))

	if strings.HasPrefix(normalized, "postgresql://") || strings.HasPrefix(normalized, "postgres://") {
		return PostgreSQL
	}
	if isLikelyPostgresDSN(normalized) {
		return PostgreSQL
	}
	if strings.HasPrefix(normalized, "mysql://") || strings.Contains(normalized, "@tcp(") {
		return MySQL
	}
	if strings.HasPrefix(normalized, "sqlite://") || strings.HasPrefix(normalized, "file:") ||
		strings.HasSuffix(normalized, ".db") || normalized == ":memory:" {
		return SQLite
	}

	return Unknown
}

func isLikelyPostgresDSN(connStr string) bool {
	if !strings.Contains(connStr, "=") || strings.Contains(connStr, "@tcp(") {
		return false
	}

	return strings.Contains(connStr, "host=") ||
		strings.Contains(connStr, "dbname=") ||
		strings.Contains(connStr, "user=")
}

// collect scans every row with scan and closes rows
func collect(rows *sql.Rows, scan func(*sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func listTables(ctx context.Context, db Querier, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var tables []string
	err = collect(rows, func(r *sql.Rows) error {
		var name string
		if err := r.Scan(&name); err != nil {
			return err
		}
		tables = append(tables, name)
		return nil
	})
	return tables, err
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
