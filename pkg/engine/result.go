package engine

import "fmt"

// Record represents a single result row as a map of column name → value
// Values are driver-typed: string, int64, float64, bool, []byte, nil, time.Time
type Record map[string]interface{}

// Get returns the value of a column
func (r Record) Get(column string) interface{} {
	return r[column]
}

// String returns the string value of a column, or empty string if not found
func (r Record) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int returns the int64 value of a column, or 0 if not found/not int
func (r Record) Int(column string) int64 {
	n, _ := toInt64(r[column])
	return n
}

// QueryResult holds the result of a query execution
type QueryResult struct {
	Columns []string
	Rows    []Record
}

// Count returns the number of rows in the result
func (qr *QueryResult) Count() int {
	if qr == nil {
		return 0
	}
	return len(qr.Rows)
}

// IsEmpty returns true if no rows were returned
func (qr *QueryResult) IsEmpty() bool {
	return qr.Count() == 0
}

// Scalar is the first column of the first row. Valid is false when the
// query produced no row, which is not an error.
type Scalar struct {
	Value interface{}
	Valid bool
}

// NonQueryResult describes a write execution
type NonQueryResult struct {
	RowsAffected int64
	// Identity holds the server-generated key when the command asked for it.
	Identity interface{}
}

// toInt64 converts the numeric kinds drivers return into int64.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
