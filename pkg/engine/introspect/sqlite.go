package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type sqliteIntrospector struct {
	db Querier
}

func (si *sqliteIntrospector) ListTables(ctx context.Context) ([]string, error) {
	return listTables(ctx, si.db, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
}

func (si *sqliteIntrospector) InspectTable(ctx context.Context, tableName string) (*TableInfo, error) {
	rows, err := si.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, tableName)
	if err != nil {
		return nil, err
	}

	table := &TableInfo{Name: tableName, Columns: []ColumnInfo{}}
	keyColumns := 0
	err = collect(rows, func(r *sql.Rows) error {
		var col ColumnInfo
		var notNull, pk int
		var defaultVal sql.NullString
		if err := r.Scan(&col.Name, &col.Type, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		col.PrimaryKey = pk > 0
		col.Nullable = notNull == 0 && !col.PrimaryKey
		col.DefaultVal = nullString(defaultVal)
		if col.PrimaryKey {
			keyColumns++
		}
		table.Columns = append(table.Columns, col)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found or has no columns", tableName)
	}

	// a single INTEGER PRIMARY KEY aliases the rowid and is server-assigned
	if keyColumns == 1 {
		for i := range table.Columns {
			c := &table.Columns[i]
			if c.PrimaryKey && strings.EqualFold(strings.TrimSpace(c.Type), "INTEGER") {
				c.AutoIncrement = true
			}
		}
	}

	if err := si.markUnique(ctx, table); err != nil {
		return nil, err
	}

	fkRows, err := si.db.QueryContext(ctx,
		`SELECT "from", "table", "to", id FROM pragma_foreign_key_list(?)`, tableName)
	if err != nil {
		return nil, err
	}
	err = collect(fkRows, func(r *sql.Rows) error {
		var column string
		var to sql.NullString
		var id int
		var fk ForeignKeyInfo
		if err := r.Scan(&column, &fk.ReferencedTable, &to, &id); err != nil {
			return err
		}
		fk.ReferencedColumn = to.String
		fk.ConstraintName = fmt.Sprintf("fk_%s_%d", tableName, id)
		table.attachForeignKey(column, fk)
		return nil
	})
	return table, err
}

// markUnique flags columns covered alone by a unique index or constraint
func (si *sqliteIntrospector) markUnique(ctx context.Context, table *TableInfo) error {
	rows, err := si.db.QueryContext(ctx,
		`SELECT name FROM pragma_index_list(?) WHERE "unique" = 1 AND origin <> 'pk'`, table.Name)
	if err != nil {
		return err
	}
	var indexes []string
	err = collect(rows, func(r *sql.Rows) error {
		var name string
		if err := r.Scan(&name); err != nil {
			return err
		}
		indexes = append(indexes, name)
		return nil
	})
	if err != nil {
		return err
	}

	for _, index := range indexes {
		cols, err := listTables(ctx, si.db, `SELECT name FROM pragma_index_info(?)`, index)
		if err != nil {
			return err
		}
		if len(cols) != 1 {
			continue
		}
		for i := range table.Columns {
			if strings.EqualFold(table.Columns[i].Name, cols[0]) {
				table.Columns[i].Unique = true
			}
		}
	}
	return nil
}
