package mutation

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Differs reports whether a field's current value differs from the value
// captured at load time. Byte slices are compared by length then content,
// numbers numerically, times with Equal. Values of unrelated types are
// converted to the current value's type first; a failed conversion counts
// as a difference.
func Differs(current, original interface{}) bool {
	if current == nil || original == nil {
		return !(current == nil && original == nil)
	}

	switch cur := current.(type) {
	case []byte:
		orig, ok := asBytes(original)
		if !ok {
			return true
		}
		if len(cur) != len(orig) {
			return true
		}
		return !bytes.Equal(cur, orig)

	case time.Time:
		orig, ok := original.(time.Time)
		if !ok {
			return true
		}
		return !cur.Equal(orig)

	case string:
		switch orig := original.(type) {
		case string:
			return cur != orig
		case []byte:
			return cur != string(orig)
		case fmt.Stringer:
			return cur != orig.String()
		}
		if n, ok := asFloat(original); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(cur), 64)
			return err != nil || f != n
		}
		return true

	case bool:
		orig, ok := original.(bool)
		return !ok || cur != orig
	}

	if a, ok := asInt(current); ok {
		if b, ok := asInt(original); ok {
			return a != b
		}
	}
	if a, ok := asUint(current); ok {
		if b, ok := asUint(original); ok {
			return a != b
		}
	}
	if a, ok := asFloat(current); ok {
		switch orig := original.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(orig), 64)
			return err != nil || f != a
		default:
			b, ok := asFloat(original)
			return !ok || a != b
		}
	}

	ct, ot := reflect.TypeOf(current), reflect.TypeOf(original)
	if ct != ot {
		if ot.ConvertibleTo(ct) && ot.Kind() == ct.Kind() && ct.Comparable() {
			return reflect.ValueOf(original).Convert(ct).Interface() != current
		}
		return true
	}
	if ct.Comparable() {
		return current != original
	}
	return !reflect.DeepEqual(current, original)
}

func asBytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	default:
		return nil, false
	}
}

func asInt(v interface{}) (int64, bool) {
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
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint64:
		return int64(n), n <= math.MaxInt64
	default:
		return 0, false
	}
}

// asUint covers unsigned values past the int64 range
func asUint(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint64:
		return n, true
	}
	if n, ok := asInt(v); ok && n >= 0 {
		return uint64(n), true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	if n, ok := asInt(v); ok {
		return float64(n), true
	}
	switch f := v.(type) {
	case uint:
		return float64(f), true
	case uint64:
		return float64(f), true
	case float32:
		return float64(f), true
	case float64:
		return f, true
	default:
		return 0, false
	}
}
