package mutation

import (
	"sort"
	"strings"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// column is a field selected for a command: logical name, physical column
// and the value to bind.
type column struct {
	Field  string
	Column string
	Value  interface{}
}

func validateRequest(req engine.CompileRequest) error {
	if req.Row == nil {
		return &engine.UnsupportedCommandObjectError{Command: req.TableName(), Reason: "compile request has no row"}
	}
	if req.KeyField == "" {
		return &engine.MissingConfigurationError{Setting: req.TableName() + ".key_field"}
	}
	if req.TableName() == "" {
		return &engine.MissingConfigurationError{Setting: "table"}
	}
	return nil
}

// candidateFields lists the row's fields in schema order, or sorted when
// the table has no field definitions.
func candidateFields(row *engine.Row) []*engine.Field {
	fields := row.Table().Fields()
	if len(fields) > 0 {
		return fields
	}
	values := row.Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*engine.Field, len(names))
	for i, name := range names {
		out[i] = &engine.Field{Name: name}
	}
	return out
}

// included applies the caller whitelist and the auto-increment exclusion.
func included(req engine.CompileRequest, f *engine.Field) bool {
	if f.AutoIncrement {
		return false
	}
	if req.Fields == nil {
		return true
	}
	for _, name := range req.Fields {
		if strings.EqualFold(name, f.Name) {
			return true
		}
	}
	return false
}

func isKey(req engine.CompileRequest, f *engine.Field) bool {
	return strings.EqualFold(f.Name, req.KeyField)
}

// insertColumns selects every included, non-null field. A server-assigned
// key is never sent.
func insertColumns(req engine.CompileRequest) []column {
	var cols []column
	for _, f := range candidateFields(req.Row) {
		if !included(req, f) {
			continue
		}
		if isKey(req, f) && req.KeyKind == engine.KeyIntegerAutoIncrement {
			continue
		}
		v := req.Row.Get(f.Name)
		if v == nil {
			continue
		}
		cols = append(cols, column{Field: f.Name, Column: req.FieldMap.Physical(f.Name), Value: v})
	}
	return cols
}

// updateColumns selects the non-key fields to send for a Modified row.
func updateColumns(req engine.CompileRequest, original engine.Values) []column {
	var cols []column
	for _, f := range candidateFields(req.Row) {
		if !included(req, f) || isKey(req, f) {
			continue
		}
		current := req.Row.Get(f.Name)
		if req.Mode == engine.ChangedFieldsOnly && !Differs(current, original[f.Name]) {
			continue
		}
		cols = append(cols, column{Field: f.Name, Column: req.FieldMap.Physical(f.Name), Value: current})
	}
	return cols
}

// originalKey reads the key from the values captured at load time.
func originalKey(req engine.CompileRequest, original engine.Values) interface{} {
	for name, v := range original {
		if strings.EqualFold(name, req.KeyField) {
			return v
		}
	}
	return req.Row.Get(req.KeyField)
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Column
	}
	return names
}

// baseName strips a schema qualifier: "sales.Customer" -> "Customer".
func baseName(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return strings.Trim(table[i+1:], "\"`")
	}
	return strings.Trim(table, "\"`")
}
