package mutation

import (
	"fmt"
	"strings"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// ============================================================
// STORED-PROCEDURE COMPILER
// ============================================================

// ProcedureCompiler maps row changes onto the procedure naming convention.
// Identity retrieval on insert is left to the procedure, which may return
// the new key as a one-row result.
type ProcedureCompiler struct {
	names   ProcedureNames
	dialect string
}

func NewProcedureCompiler(prefix string, dialect engine.Dialect) *ProcedureCompiler {
	c := &ProcedureCompiler{names: NewProcedureNames(prefix)}
	if dialect != nil {
		c.dialect = dialect.Name()
	}
	return c
}

func (c *ProcedureCompiler) Name() string { return engine.CompilerProcedures }

// Names exposes the naming convention in use
func (c *ProcedureCompiler) Names() ProcedureNames { return c.names }

// Compile implements engine.Compiler
func (c *ProcedureCompiler) Compile(req engine.CompileRequest) (*engine.Command, error) {
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

func (c *ProcedureCompiler) insert(req engine.CompileRequest) *engine.Command {
	cols := insertColumns(req)
	if len(cols) == 0 {
		return nil
	}

	cmd := c.command(engine.OpInsert, c.names.Update(req.TableName()), req.TableName())
	for _, col := range cols {
		cmd.Parameters = append(cmd.Parameters, engine.Parameter{Name: "@" + col.Column, Value: col.Value})
	}
	cmd.Parameters = append(cmd.Parameters, changedFields(cols))

	if req.KeyKind == engine.KeyIntegerAutoIncrement {
		cmd.ReturnsIdentity = true
		cmd.IdentityField = req.KeyField
	}
	return cmd
}

func (c *ProcedureCompiler) update(req engine.CompileRequest, original engine.Values) *engine.Command {
	cols := updateColumns(req, original)
	if len(cols) == 0 {
		return nil
	}

	cmd := c.command(engine.OpUpdate, c.names.Update(req.TableName()), req.TableName())
	cmd.Parameters = append(cmd.Parameters, engine.Parameter{
		Name:  "@" + req.FieldMap.Physical(req.KeyField),
		Value: originalKey(req, original),
	})
	for _, col := range cols {
		cmd.Parameters = append(cmd.Parameters, engine.Parameter{Name: "@" + col.Column, Value: col.Value})
	}
	cmd.Parameters = append(cmd.Parameters, changedFields(cols))
	return cmd
}

func (c *ProcedureCompiler) delete(req engine.CompileRequest, original engine.Values) *engine.Command {
	cmd := c.command(engine.OpDelete, c.names.Delete(req.TableName()), req.TableName())
	cmd.Parameters = []engine.Parameter{{
		Name:  "@" + req.FieldMap.Physical(req.KeyField),
		Value: originalKey(req, original),
	}}
	return cmd
}

func changedFields(cols []column) engine.Parameter {
	return engine.Parameter{Name: ChangedFieldsParam, Value: strings.Join(columnNames(cols), ",")}
}

// ============================================================
// READS
// ============================================================

// SelectAll implements engine.Compiler
func (c *ProcedureCompiler) SelectAll(table string) (*engine.Command, error) {
	return c.command(engine.OpSelect, c.names.GetAll(table), table), nil
}

// SelectByKey implements engine.Compiler
func (c *ProcedureCompiler) SelectByKey(table, keyField string, key interface{}) (*engine.Command, error) {
	return c.SelectByFields(table, []engine.Filter{{Field: keyField, Value: key}})
}

// SelectByFields implements engine.Compiler
func (c *ProcedureCompiler) SelectByFields(table string, filters []engine.Filter) (*engine.Command, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("select by fields on %s: at least one filter is required", table)
	}
	fields := make([]string, len(filters))
	params := make([]engine.Parameter, len(filters))
	for i, f := range filters {
		fields[i] = f.Field
		params[i] = engine.Parameter{Name: "@" + f.Field, Value: f.Value}
	}
	cmd := c.command(engine.OpSelect, c.names.GetBy(table, fields...), table)
	cmd.Parameters = params
	return cmd, nil
}

// NewRecord implements engine.Compiler
func (c *ProcedureCompiler) NewRecord(table string) (*engine.Command, error) {
	return c.command(engine.OpSelect, c.names.New(table), table), nil
}

func (c *ProcedureCompiler) command(op engine.Operation, name, table string) *engine.Command {
	return &engine.Command{
		Kind:      engine.CommandProcedure,
		Operation: op,
		Text:      name,
		Table:     table,
		Dialect:   c.dialect,
	}
}
