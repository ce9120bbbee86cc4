package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type postgresIntrospector struct {
	db Querier
}

func (pi *postgresIntrospector) ListTables(ctx context.Context) ([]string, error) {
	return listTables(ctx, pi.db, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
}

func (pi *postgresIntrospector) InspectTable(ctx context.Context, tableName string) (*TableInfo, error) {
	rows, err := pi.db.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND tc.constraint_type = 'PRIMARY KEY'
					AND kcu.column_name = c.column_name
			) AS is_primary,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND tc.constraint_type = 'UNIQUE'
					AND kcu.column_name = c.column_name
			) AS is_unique,
			c.is_identity,
			c.column_default
		FROM information_schema.columns c
		WHERE c.table_schema = 'public'
			AND c.table_name = $1
		ORDER BY c.ordinal_position
	`, tableName)
	if err != nil {
		return nil, err
	}

	table := &TableInfo{Name: tableName, Columns: []ColumnInfo{}}
	err = collect(rows, func(r *sql.Rows) error {
		var col ColumnInfo
		var nullable, identity string
		var defaultVal sql.NullString

		if err := r.Scan(&col.Name, &col.Type, &nullable, &col.PrimaryKey, &col.Unique, &identity, &defaultVal); err != nil {
			return err
		}
		col.Nullable = nullable == "YES"
		col.DefaultVal = nullString(defaultVal)
		// serial columns default to nextval(), identity columns say so
		col.AutoIncrement = identity == "YES" ||
			(defaultVal.Valid && strings.HasPrefix(defaultVal.String, "nextval("))
		table.Columns = append(table.Columns, col)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found or has no columns", tableName)
	}

	fkRows, err := pi.db.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_name = $1
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

func (t *TableInfo) attachForeignKey(column string, fk ForeignKeyInfo) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, column) {
			t.Columns[i].ForeignKey = &fk
			return
		}
	}
}
