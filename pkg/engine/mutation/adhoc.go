package mutation

import (
	"fmt"
	"strings"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// KeyParam is the ad-hoc name of the parameter locating a row
const KeyParam = "@pPK"

// ============================================================
// AD-HOC SQL COMPILER
// ============================================================

// AdHocCompiler renders parameterized INSERT/UPDATE/DELETE statements
type AdHocCompiler struct {
	dialect engine.Dialect
}

func NewAdHocCompiler(dialect engine.Dialect) *AdHocCompiler {
	if dialect == nil {
		dialect = engine.PostgresDialect{}
	}
	return &AdHocCompiler{dialect: dialect}
}

func (c *AdHocCompiler) Name() string { return engine.CompilerAdHoc }

// Compile implements engine.Compiler
func (c *AdHocCompiler) Compile(req engine.CompileRequest) (*engine.Command, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	switch st := req.Row.State().(type) {
	case engine.Unchanged:
		return nil, nil
	case engine.Added:
		return c.insert(req), nil
	case engine.Modified:
		return c.update(req, st.Original), nil
	case engine.Deleted:
		return c.delete(req, st.Original), nil
	default:
		return nil, &engine.UnsupportedCommandObjectError{Command: req.TableName(), Reason: fmt.Sprintf("unknown row state %T", st)}
	}
}

func (c *AdHocCompiler) insert(req engine.CompileRequest) *engine.Command {
	cols := insertColumns(req)
	if len(cols) == 0 {
		return nil
	}

	table := req.TableName()
	cmd := c.command(engine.OpInsert, table)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		name := "@" + col.Column
		quoted[i] = c.dialect.QuoteIdent(col.Column)
		placeholders[i] = c.dialect.Placeholder(name, i+1)
		cmd.Parameters = append(cmd.Parameters, engine.Parameter{Name: name, Value: col.Value})
	}

	cmd.Text = fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		c.dialect.QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)

	if req.KeyKind == engine.KeyIntegerAutoIncrement {
		cmd.IdentityField = req.KeyField
		if clause := c.dialect.IdentityClause(req.FieldMap.Physical(req.KeyField)); clause != "" {
			cmd.Text += clause
			cmd.ReturnsIdentity = true
		}
	}
	return cmd
}

func (c *AdHocCompiler) update(req engine.CompileRequest, original engine.Values) *engine.Command {
	cols := updateColumns(req, original)
	if len(cols) == 0 {
		return nil
	}

	table := req.TableName()
	cmd := c.command(engine.OpUpdate, table)
	sets := make([]string, len(cols))
	used := map[string]bool{strings.ToLower(KeyParam): true}
	for i, col := range cols {
		name := setParam(col.Column, used)
		sets[i] = fmt.Sprintf("%s = %s", c.dialect.QuoteIdent(col.Column), c.dialect.Placeholder(name, i+1))
		cmd.Parameters = append(cmd.Parameters, engine.Parameter{Name: name, Value: col.Value})
	}
	cmd.Parameters = append(cmd.Parameters, engine.Parameter{Name: KeyParam, Value: originalKey(req, original)})

	cmd.Text = fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = %s",
		c.dialect.QuoteIdent(table),
		strings.Join(sets, ", "),
		c.dialect.QuoteIdent(req.FieldMap.Physical(req.KeyField)),
		c.dialect.Placeholder(KeyParam, len(cmd.Parameters)),
	)
	return cmd
}

// setParam names the SET parameter of a column. Names compare without
// case, so a column called PK is pushed off the key parameter.
func setParam(column string, used map[string]bool) string {
	name := "@p" + column
	for used[strings.ToLower(name)] {
		name += "_"
	}
	used[strings.ToLower(name)] = true
	return name
}

// delete only consults the original key; current values of a removed row
// are not meaningful.
func (c *AdHocCompiler) delete(req engine.CompileRequest, original engine.Values) *engine.Command {
	table := req.TableName()
	cmd := c.command(engine.OpDelete, table)
	cmd.Parameters = []engine.Parameter{{Name: KeyParam, Value: originalKey(req, original)}}
	cmd.Text = fmt.Sprintf(
		"DELETE FROM %s WHERE %s = %s",
		c.dialect.QuoteIdent(table),
		c.dialect.QuoteIdent(req.FieldMap.Physical(req.KeyField)),
		c.dialect.Placeholder(KeyParam, 1),
	)
	return cmd
}

// ============================================================
// READS
// ============================================================

// SelectAll implements engine.Compiler
func (c *AdHocCompiler) SelectAll(table string) (*engine.Command, error) {
	cmd := c.command(engine.OpSelect, table)
	cmd.Text = "SELECT * FROM " + c.dialect.QuoteIdent(table)
	return cmd, nil
}

// SelectByKey implements engine.Compiler
func (c *AdHocCompiler) SelectByKey(table, keyField string, key interface{}) (*engine.Command, error) {
	return c.SelectByFields(table, []engine.Filter{{Field: keyField, Value: key}})
}

// SelectByFields implements engine.Compiler. Filters are ANDed single-field
// equalities; a nil value matches NULL.
func (c *AdHocCompiler) SelectByFields(table string, filters []engine.Filter) (*engine.Command, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("select by fields on %s: at least one filter is required", table)
	}

	cmd := c.command(engine.OpSelect, table)
	conds := make([]string, len(filters))
	for i, f := range filters {
		col := c.dialect.QuoteIdent(f.Field)
		if f.Value == nil {
			conds[i] = col + " IS NULL"
			continue
		}
		name := "@" + f.Field
		cmd.Parameters = append(cmd.Parameters, engine.Parameter{Name: name, Value: f.Value})
		conds[i] = fmt.Sprintf("%s = %s", col, c.dialect.Placeholder(name, len(cmd.Parameters)))
	}
	cmd.Text = fmt.Sprintf("SELECT * FROM %s WHERE %s", c.dialect.QuoteIdent(table), strings.Join(conds, " AND "))
	return cmd, nil
}

// NewRecord implements engine.Compiler; the result carries the columns only.
func (c *AdHocCompiler) NewRecord(table string) (*engine.Command, error) {
	cmd := c.command(engine.OpSelect, table)
	cmd.Text = fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", c.dialect.QuoteIdent(table))
	return cmd, nil
}

func (c *AdHocCompiler) command(op engine.Operation, table string) *engine.Command {
	return &engine.Command{
		Kind:      engine.CommandText,
		Operation: op,
		Table:     table,
		Dialect:   c.dialect.Name(),
	}
}
