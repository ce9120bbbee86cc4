package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type mysqlIntrospector struct {
	db Querier
}

func (mi *mysqlIntrospector) ListTables(ctx context.Context) ([]string, error) {
	return listTables(ctx, mi.db, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
}

func (mi *mysqlIntrospector) InspectTable(ctx context.Context, tableName string) (*TableInfo, error) {
	rows, err := mi.db.QueryContext(ctx, `
		SELECT column_name, column_type, is_nullable, column_key, extra, column_default
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
			AND table_name = ?
		ORDER BY ordinal_position
	`, tableName)
	if err != nil {
		return nil, err
	}

	table := &TableInfo{Name: tableName, Columns: []ColumnInfo{}}
	err = collect(rows, func(r *sql.Rows) error {
		var col ColumnInfo
		var nullable, key, extra string
		var defaultVal sql.NullString
		if err := r.Scan(&col.Name, &col.Type, &nullable, &key, &extra, &defaultVal); err != nil {
			return err
		}
		col.Nullable = nullable == "YES"
		col.PrimaryKey = key == "PRI"
		col.Unique = key == "UNI"
		col.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		col.DefaultVal = nullString(defaultVal)
		table.Columns = append(table.Columns, col)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found or has no columns", tableName)
	}

	fkRows, err := mi.db.QueryContext(ctx, `
		SELECT column_name, referenced_table_name, referenced_column_name, constraint_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
			AND table_name = ?
			AND referenced_table_name IS NOT NULL
	`, tableName)
	if err != nil {
		return nil, err
	}
	err = collect(fkRows, func(r *sql.Rows) error {
		var column string
		var fk ForeignKeyInfo
		if err := r.Scan(&column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName); err != nil {
			return err
		}
		table.attachForeignKey(column, fk)
		return nil
	})
	return table, err
}
