package engine

import "strings"

// ============================================================
// COMMAND TYPES
// ============================================================

// CommandKind says whether Text is SQL or a stored-procedure name
type CommandKind int

const (
	CommandText CommandKind = iota
	CommandProcedure
)

func (k CommandKind) String() string {
	switch k {
	case CommandText:
		return "text"
	case CommandProcedure:
		return "procedure"
	default:
		return "unknown"
	}
}

// Operation is the statement a command performs
type Operation int

const (
	OpSelect Operation = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "SELECT"
	}
}

// Parameter is one named command argument
type Parameter struct {
	Name  string
	Value interface{}
}

// Command is an executable statement produced by a Compiler.
type Command struct {
	Kind       CommandKind
	Operation  Operation
	Text       string
	Parameters []Parameter
	// Table is the physical table the command targets, if any.
	Table string
	// Dialect is the backend the text was rendered for.
	Dialect string
	// ReturnsIdentity marks inserts that yield the generated key.
	ReturnsIdentity bool
	// IdentityField is the logical key field receiving the identity.
	IdentityField string
}

// Param returns the value of the named parameter
func (c *Command) Param(name string) (interface{}, bool) {
	for _, p := range c.Parameters {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return nil, false
}

// ============================================================
// COMPILER CONTRACT
// ============================================================

// KeyKind describes how primary-key values are assigned
type KeyKind int

const (
	// KeyIntegerAutoIncrement keys are assigned by the server.
	KeyIntegerAutoIncrement KeyKind = iota
	KeyGUID
	KeyString
)

// UpdateMode selects which fields an UPDATE carries
type UpdateMode int

const (
	ChangedFieldsOnly UpdateMode = iota
	AllFields
)

// CompileRequest carries a changed row plus the metadata needed to turn it
// into a command.
type CompileRequest struct {
	Row *Row
	// Table is the physical table name; defaults to the row's table.
	Table    string
	KeyField string
	KeyKind  KeyKind
	Mode     UpdateMode
	// Fields restricts the logical fields considered. Nil means all.
	Fields   []string
	FieldMap FieldMap
}

// TableName returns the physical table name of the request
func (r CompileRequest) TableName() string {
	if r.Table != "" {
		return r.Table
	}
	if r.Row != nil {
		return r.Row.Table().Name()
	}
	return ""
}

// Filter is a single-field equality condition
type Filter struct {
	Field string
	Value interface{}
}

// Compiler turns changed rows and fetch requests into commands. A nil
// command with a nil error means there is nothing to send.
type Compiler interface {
	Name() string
	Compile(req CompileRequest) (*Command, error)

	SelectAll(table string) (*Command, error)
	SelectByKey(table, keyField string, key interface{}) (*Command, error)
	SelectByFields(table string, filters []Filter) (*Command, error)
	NewRecord(table string) (*Command, error)
}

// CompilerOptions configures a compiler created through the registry
type CompilerOptions struct {
	Dialect         Dialect
	ProcedurePrefix string
}
