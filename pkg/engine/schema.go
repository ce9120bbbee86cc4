package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema is a set of table definitions, usually produced by introspection
type Schema struct {
	Tables []*TableSchema `json:"tables"`
}

// TableSchema describes the columns of one table
type TableSchema struct {
	Name   string   `json:"name"`
	Fields []*Field `json:"fields"`
}

// Field represents a table column
type Field struct {
	Name          string    `json:"name"`
	Type          FieldType `json:"field_type"`
	Nullable      bool      `json:"nullable"`
	Unique        bool      `json:"unique"`
	PrimaryKey    bool      `json:"primary_key"`
	AutoIncrement bool      `json:"auto_increment"`
}

// FieldType represents the type of a field and can be simple or complex
type FieldType struct {
	Kind  string      `json:"-"` // e.g., "UUID", "String", "Bytes"
	Param interface{} `json:"-"` // e.g., size for String(40)
}

// Simple field type constants
var (
	FieldTypeUUID      = FieldType{Kind: "UUID"}
	FieldTypeString    = FieldType{Kind: "String"}
	FieldTypeInt       = FieldType{Kind: "Int"}
	FieldTypeDecimal   = FieldType{Kind: "Decimal"}
	FieldTypeBool      = FieldType{Kind: "Bool"}
	FieldTypeTimestamp = FieldType{Kind: "Timestamp"}
	FieldTypeFloat     = FieldType{Kind: "Float"}
	FieldTypeBytes     = FieldType{Kind: "Bytes"}
)

// UnmarshalJSON deserializes FieldType from JSON
// Can be: "UUID" (string) or {"String": 40} (object)
func (ft *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*ft = FieldType{Kind: s}
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		if len(obj) != 1 {
			return fmt.Errorf("invalid FieldType object: expected 1 key, got %d", len(obj))
		}

		for key, value := range obj {
			*ft = FieldType{Kind: key, Param: value}
			return nil
		}
	}

	return fmt.Errorf("cannot unmarshal FieldType from %s", string(data))
}

// MarshalJSON serializes FieldType to JSON
func (ft FieldType) MarshalJSON() ([]byte, error) {
	if ft.Param == nil {
		return json.Marshal(ft.Kind)
	}
	return json.Marshal(map[string]interface{}{ft.Kind: ft.Param})
}

// String returns a string representation of the FieldType
func (ft FieldType) String() string {
	if ft.Param == nil {
		return ft.Kind
	}
	return fmt.Sprintf("%s(%v)", ft.Kind, ft.Param)
}

// Is reports whether both types share the same kind, ignoring parameters.
func (ft FieldType) Is(other FieldType) bool {
	return strings.EqualFold(ft.Kind, other.Kind)
}

// Field returns the named field (case-insensitive) or nil
func (ts *TableSchema) Field(name string) *Field {
	for _, f := range ts.Fields {
		if strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

// PrimaryKey returns the first primary-key field or nil
func (ts *TableSchema) PrimaryKey() *Field {
	for _, f := range ts.Fields {
		if f.PrimaryKey {
			return f
		}
	}
	return nil
}

// Table returns the named table definition (case-insensitive) or nil
func (s *Schema) Table(name string) *TableSchema {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// ParseSchemaJSON parses a JSON string into a Schema
func ParseSchemaJSON(jsonStr string) (*Schema, error) {
	var schema Schema
	if err := json.Unmarshal([]byte(jsonStr), &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// ToJSON converts a Schema to JSON string
func (s *Schema) ToJSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ============================================================
// FIELD MAP
// ============================================================

// FieldMap translates logical field names to physical column names.
type FieldMap map[string]string

// Physical returns the column for a logical field, or the field itself.
func (m FieldMap) Physical(field string) string {
	if m == nil {
		return field
	}
	if col, ok := m[field]; ok && col != "" {
		return col
	}
	for logical, col := range m {
		if strings.EqualFold(logical, field) && col != "" {
			return col
		}
	}
	return field
}

// Logical is the inverse of Physical, used when loading query results.
func (m FieldMap) Logical(column string) string {
	for logical, col := range m {
		if strings.EqualFold(col, column) {
			return logical
		}
	}
	return column
}
