package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownField is returned when a row is asked for a column its table does not define.
var ErrUnknownField = errors.New("unknown field")

// ErrRowDeleted is returned when writing to a row that was removed.
var ErrRowDeleted = errors.New("row is deleted")

// Values holds one value per field name
type Values map[string]interface{}

// Clone returns a shallow copy. Byte slices are copied so originals stay stable.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		if b, ok := val.([]byte); ok {
			val = append([]byte(nil), b...)
		}
		out[k] = val
	}
	return out
}

// ============================================================
// CHANGE STATE
// ============================================================

// ChangeState is the change tag of a row. Only Modified and Deleted carry
// the values captured at load time.
type ChangeState interface {
	String() string
	changeState()
}

type Unchanged struct{}

type Added struct{}

type Modified struct {
	Original Values
}

type Deleted struct {
	Original Values
}

func (Unchanged) changeState() {}
func (Added) changeState()     {}
func (Modified) changeState()  {}
func (Deleted) changeState()   {}

func (Unchanged) String() string { return "Unchanged" }
func (Added) String() string     { return "Added" }
func (Modified) String() string  { return "Modified" }
func (Deleted) String() string   { return "Deleted" }

// ParseChangeState is the inverse of ChangeState.String. Original values
// are attached for Modified and Deleted.
func ParseChangeState(name string, original Values) (ChangeState, error) {
	switch strings.ToLower(name) {
	case "unchanged", "":
		return Unchanged{}, nil
	case "added":
		return Added{}, nil
	case "modified":
		return Modified{Original: original}, nil
	case "deleted":
		return Deleted{Original: original}, nil
	default:
		return nil, fmt.Errorf("unknown change state %q", name)
	}
}

// ============================================================
// ROW
// ============================================================

// Row is one record of a Table with its change tracking.
type Row struct {
	id     uuid.UUID
	table  *Table
	values Values
	state  ChangeState
}

// ID is the stable in-memory identity of the row. It never changes and is
// unrelated to the primary key.
func (r *Row) ID() uuid.UUID { return r.id }

func (r *Row) Table() *Table { return r.table }

func (r *Row) State() ChangeState { return r.state }

// IsDeleted reports whether the row is tagged Deleted
func (r *Row) IsDeleted() bool {
	_, ok := r.state.(Deleted)
	return ok
}

// Get returns the current value of a field
func (r *Row) Get(field string) interface{} {
	return r.values[r.table.canonical(field)]
}

// String returns the field as a string, or empty string if null
func (r *Row) String(field string) string {
	v := r.Get(field)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// Int returns the field as int64, or 0 if null or not numeric
func (r *Row) Int(field string) int64 {
	n, _ := toInt64(r.Get(field))
	return n
}

// Set writes the current value of a field. The first write after load
// moves the row to Modified.
func (r *Row) Set(field string, value interface{}) error {
	name, ok := r.table.resolve(field)
	if !ok {
		return fmt.Errorf("%s.%s: %w", r.table.Name(), field, ErrUnknownField)
	}

	switch r.state.(type) {
	case Deleted:
		return fmt.Errorf("%s.%s: %w", r.table.Name(), field, ErrRowDeleted)
	case Unchanged:
		r.state = Modified{Original: r.values.Clone()}
	}

	r.values[name] = value
	return nil
}

// Original returns the value captured at load time. Added rows have none.
func (r *Row) Original(field string) (interface{}, bool) {
	name := r.table.canonical(field)
	switch s := r.state.(type) {
	case Modified:
		v, ok := s.Original[name]
		return v, ok
	case Deleted:
		v, ok := s.Original[name]
		return v, ok
	case Unchanged:
		v, ok := r.values[name]
		return v, ok
	default:
		return nil, false
	}
}

// Values returns a copy of the current values
func (r *Row) Values() Values {
	return r.values.Clone()
}

// Key returns the current primary-key value
func (r *Row) Key() interface{} {
	pk := r.table.schema.PrimaryKey()
	if pk == nil {
		return nil
	}
	return r.values[pk.Name]
}

// OriginalKey returns the primary-key value that locates the row on the server.
func (r *Row) OriginalKey() interface{} {
	pk := r.table.schema.PrimaryKey()
	if pk == nil {
		return nil
	}
	if v, ok := r.Original(pk.Name); ok {
		return v
	}
	return r.values[pk.Name]
}

// Delete tags the row Deleted. Added rows never reached the server and are
// detached from the table instead.
func (r *Row) Delete() {
	switch s := r.state.(type) {
	case Added:
		r.table.detach(r)
	case Unchanged:
		r.state = Deleted{Original: r.values.Clone()}
	case Modified:
		r.state = Deleted{Original: s.Original}
	}
}

// AcceptChanges is the post-save step: Deleted rows leave the table,
// everything else becomes Unchanged.
func (r *Row) AcceptChanges() {
	if r.IsDeleted() {
		r.table.detach(r)
		return
	}
	identity := r.table.snapshot.identity
	if _, ok := r.state.(Modified); ok {
		identity.Forget(r.table.Name(), r.OriginalKey(), r)
	}
	if key := r.Key(); key != nil {
		identity.Resolve(r.table.Name(), key, r)
	}
	r.state = Unchanged{}
}

// RejectChanges restores the values captured at load time.
func (r *Row) RejectChanges() {
	switch s := r.state.(type) {
	case Added:
		r.table.detach(r)
	case Modified:
		r.values = s.Original.Clone()
		r.state = Unchanged{}
	case Deleted:
		r.values = s.Original.Clone()
		r.state = Unchanged{}
	}
}

// assignIdentity stores a server-generated key without changing state.
func (r *Row) assignIdentity(field string, value interface{}) {
	r.values[r.table.canonical(field)] = value
}

// ============================================================
// TABLE
// ============================================================

// Table is an ordered set of rows sharing a schema.
type Table struct {
	schema   *TableSchema
	rows     []*Row
	snapshot *RecordSnapshot
}

func (t *Table) Name() string { return t.schema.Name }

func (t *Table) Schema() *TableSchema { return t.schema }

// Fields returns the ordered field definitions
func (t *Table) Fields() []*Field { return t.schema.Fields }

// NewRow appends a row in state Added. An unset UUID primary key is
// generated client-side.
func (t *Table) NewRow() *Row {
	row := &Row{id: uuid.New(), table: t, values: make(Values, len(t.schema.Fields)), state: Added{}}
	for _, f := range t.schema.Fields {
		row.values[f.Name] = nil
	}
	if pk := t.schema.PrimaryKey(); pk != nil && pk.Type.Is(FieldTypeUUID) && !pk.AutoIncrement {
		row.values[pk.Name] = uuid.NewString()
	}
	t.rows = append(t.rows, row)
	return row
}

// Load appends a row in state Unchanged. Loading a key that is already
// present returns the existing row.
func (t *Table) Load(values Values) *Row {
	normalized := make(Values, len(values))
	for k, v := range values {
		if name, ok := t.resolve(k); ok {
			normalized[name] = v
		}
	}
	for _, f := range t.schema.Fields {
		if _, ok := normalized[f.Name]; !ok {
			normalized[f.Name] = nil
		}
	}

	row := &Row{id: uuid.New(), table: t, values: normalized, state: Unchanged{}}
	if pk := t.schema.PrimaryKey(); pk != nil && normalized[pk.Name] != nil {
		if existing := t.snapshot.identity.Resolve(t.Name(), normalized[pk.Name], row); existing != row {
			return existing
		}
	}
	t.rows = append(t.rows, row)
	return row
}

// RestoreRow appends a row with an explicit identity and state. It is used
// to rebuild archived snapshots.
func (t *Table) RestoreRow(id uuid.UUID, state ChangeState, values Values) *Row {
	row := &Row{id: id, table: t, values: make(Values, len(values)), state: state}
	for k, v := range values {
		if name, ok := t.resolve(k); ok {
			row.values[name] = v
		}
	}
	if pk := t.schema.PrimaryKey(); pk != nil && row.values[pk.Name] != nil {
		t.snapshot.identity.Resolve(t.Name(), row.values[pk.Name], row)
	}
	t.rows = append(t.rows, row)
	return row
}

// Rows returns every row, Deleted included, in table order
func (t *Table) Rows() []*Row {
	out := make([]*Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// LiveRows returns the non-deleted rows in table order
func (t *Table) LiveRows() []*Row {
	out := make([]*Row, 0, len(t.rows))
	for _, r := range t.rows {
		if !r.IsDeleted() {
			out = append(out, r)
		}
	}
	return out
}

// Changes returns the rows that are not Unchanged, in table order
func (t *Table) Changes() []*Row {
	var out []*Row
	for _, r := range t.rows {
		if _, ok := r.state.(Unchanged); !ok {
			out = append(out, r)
		}
	}
	return out
}

// RowByID finds a row by its in-memory identity
func (t *Table) RowByID(id uuid.UUID) *Row {
	for _, r := range t.rows {
		if r.id == id {
			return r
		}
	}
	return nil
}

// FindByKey returns the live row whose primary key equals value
func (t *Table) FindByKey(value interface{}) *Row {
	pk := t.schema.PrimaryKey()
	if pk == nil {
		return nil
	}
	return t.FindBy(pk.Name, value)
}

// FindBy returns the first live row whose field equals value
func (t *Table) FindBy(field string, value interface{}) *Row {
	name := t.canonical(field)
	want := KeyOf(value)
	for _, r := range t.rows {
		if r.IsDeleted() {
			continue
		}
		if KeyOf(r.values[name]) == want {
			return r
		}
	}
	return nil
}

// Select returns the live rows matching fn
func (t *Table) Select(fn func(*Row) bool) []*Row {
	var out []*Row
	for _, r := range t.rows {
		if !r.IsDeleted() && fn(r) {
			out = append(out, r)
		}
	}
	return out
}

func (t *Table) AcceptChanges() {
	for _, r := range t.Rows() {
		r.AcceptChanges()
	}
}

func (t *Table) RejectChanges() {
	for _, r := range t.Rows() {
		r.RejectChanges()
	}
}

func (t *Table) HasChanges() bool {
	return len(t.Changes()) > 0
}

func (t *Table) detach(row *Row) {
	for i, r := range t.rows {
		if r == row {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			break
		}
	}
	if pk := t.schema.PrimaryKey(); pk != nil {
		t.snapshot.identity.Forget(t.Name(), row.OriginalKey(), row)
	}
}

// resolve maps a field name to its canonical spelling. Tables without
// field definitions accept any name.
func (t *Table) resolve(field string) (string, bool) {
	if len(t.schema.Fields) == 0 {
		return field, true
	}
	if f := t.schema.Field(field); f != nil {
		return f.Name, true
	}
	return "", false
}

func (t *Table) canonical(field string) string {
	if name, ok := t.resolve(field); ok {
		return name
	}
	return field
}

// ============================================================
// RECORD SNAPSHOT
// ============================================================

// RecordSnapshot is a disconnected copy of relational data with per-row
// change tracking. It is not safe for concurrent use.
type RecordSnapshot struct {
	tables   []*Table
	identity *IdentityMap
}

func NewRecordSnapshot() *RecordSnapshot {
	return &RecordSnapshot{identity: NewIdentityMap()}
}

// AddTable registers a table. Adding an existing name returns the existing table.
func (s *RecordSnapshot) AddTable(schema *TableSchema) *Table {
	if t := s.Table(schema.Name); t != nil {
		return t
	}
	t := &Table{schema: schema, snapshot: s}
	s.tables = append(s.tables, t)
	return t
}

// Table finds a table by name, case-insensitively
func (s *RecordSnapshot) Table(name string) *Table {
	for _, t := range s.tables {
		if strings.EqualFold(t.Name(), name) {
			return t
		}
	}
	return nil
}

// Tables returns the tables in registration order
func (s *RecordSnapshot) Tables() []*Table {
	out := make([]*Table, len(s.tables))
	copy(out, s.tables)
	return out
}

func (s *RecordSnapshot) HasChanges() bool {
	for _, t := range s.tables {
		if t.HasChanges() {
			return true
		}
	}
	return false
}

// AcceptChanges resets every row to Unchanged and drops Deleted rows.
func (s *RecordSnapshot) AcceptChanges() {
	for _, t := range s.tables {
		t.AcceptChanges()
	}
}

// RejectChanges restores every table to its loaded state.
func (s *RecordSnapshot) RejectChanges() {
	for _, t := range s.tables {
		t.RejectChanges()
	}
}
