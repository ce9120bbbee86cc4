package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IdentityMap keeps one Row per (table, primary key) so the same record
// loaded twice into a snapshot is shared rather than duplicated.
type IdentityMap struct {
	objects map[string]map[string]*Row
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		objects: make(map[string]map[string]*Row),
	}
}

// Resolve returns the row already registered for key, or registers row.
func (im *IdentityMap) Resolve(table string, key interface{}, row *Row) *Row {
	id := KeyOf(key)
	if id == "" {
		return row
	}

	entity := strings.ToLower(table)
	if im.objects[entity] == nil {
		im.objects[entity] = make(map[string]*Row)
	}

	if existing, ok := im.objects[entity][id]; ok {
		return existing
	}
	im.objects[entity][id] = row
	return row
}

// Forget drops the mapping for key if it still points at row.
func (im *IdentityMap) Forget(table string, key interface{}, row *Row) {
	entity := strings.ToLower(table)
	id := KeyOf(key)
	if existing, ok := im.objects[entity][id]; ok && existing == row {
		delete(im.objects[entity], id)
	}
}

// Len returns the number of rows tracked for a table
func (im *IdentityMap) Len(table string) int {
	return len(im.objects[strings.ToLower(table)])
}

// KeyOf converts a key value into a stable string key.
func KeyOf(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case uuid.UUID:
		return id.String()
	case [16]byte:
		return uuid.UUID(id).String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", id)
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}
