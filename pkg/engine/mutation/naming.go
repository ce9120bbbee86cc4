package mutation

import "strings"

// DefaultProcedurePrefix is used when no prefix is configured
const DefaultProcedurePrefix = "rs_"

// ChangedFieldsParam carries the comma-joined physical names of the fields
// a procedure call sends.
const ChangedFieldsParam = "@__cChangedFields"

// ProcedureNames builds stored-procedure names from the naming convention
type ProcedureNames struct {
	Prefix string
}

func NewProcedureNames(prefix string) ProcedureNames {
	if prefix == "" {
		prefix = DefaultProcedurePrefix
	}
	return ProcedureNames{Prefix: prefix}
}

// Update is the insert/update procedure: {prefix}upd{Table}
func (n ProcedureNames) Update(table string) string {
	return n.Prefix + "upd" + baseName(table)
}

// Delete is {prefix}del{Table}
func (n ProcedureNames) Delete(table string) string {
	return n.Prefix + "del" + baseName(table)
}

// GetAll is {prefix}get{Table}AllRecords
func (n ProcedureNames) GetAll(table string) string {
	return n.Prefix + "get" + baseName(table) + "AllRecords"
}

// GetBy is {prefix}get{Table}By{Field1}And{Field2}...
func (n ProcedureNames) GetBy(table string, fields ...string) string {
	return n.Prefix + "get" + baseName(table) + "By" + strings.Join(fields, "And")
}

// New is {prefix}new{Table}
func (n ProcedureNames) New(table string) string {
	return n.Prefix + "new" + baseName(table)
}
