package relation

import (
	"github.com/jinzhu/inflection"
	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

var (
	// ErrIndexOutOfRange is returned for ordinal positions past the live rows.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrKeyUnset is returned when a row needed as a link target has no key yet.
	ErrKeyUnset = errors.New("row has no key value")
	// ErrTargetNotFound is returned by cross-link lookups that found nothing
	// and may not create the target.
	ErrTargetNotFound = errors.New("link target not found")
	// ErrLineOutOfRange is returned for line numbers outside 1..Count().
	ErrLineOutOfRange = errors.New("line number out of range")
	// ErrNotMember is returned for items that do not belong to the collection.
	ErrNotMember = errors.New("item does not belong to this collection")
)

// DefaultKeyField is used when a table declares no primary key.
const DefaultKeyField = "Id"

// Config describes a parent/child relation between two snapshot tables.
type Config struct {
	// Table holds the child rows.
	Table string
	// PrimaryKey of the child table. Defaults to the schema's key.
	PrimaryKey string
	// ForeignKey is the child field holding the parent key. Defaults to the
	// singular parent table name followed by "Id".
	ForeignKey  string
	ParentTable string
	// ParentKey of the parent table. Defaults to the schema's key.
	ParentKey string
}

// ForeignKeyName derives the conventional foreign key for a table:
// "Customers" -> "CustomerId".
func ForeignKeyName(table string) string {
	return inflection.Singular(baseName(table)) + DefaultKeyField
}

func (c Config) resolve(snap *engine.RecordSnapshot, parent *engine.Row) (Config, *engine.Table, error) {
	if c.Table == "" {
		return c, nil, errors.New("relation config: child table is required")
	}
	table := snap.Table(c.Table)
	if table == nil {
		return c, nil, errors.Errorf("Table doesn't exist: %s", c.Table)
	}
	if c.ParentTable == "" && parent != nil {
		c.ParentTable = parent.Table().Name()
	}
	if c.PrimaryKey == "" {
		c.PrimaryKey = keyField(table.Schema())
	}
	if c.ParentKey == "" {
		if parent != nil {
			c.ParentKey = keyField(parent.Table().Schema())
		} else if pt := snap.Table(c.ParentTable); pt != nil {
			c.ParentKey = keyField(pt.Schema())
		} else {
			c.ParentKey = DefaultKeyField
		}
	}
	if c.ForeignKey == "" {
		if c.ParentTable == "" {
			return c, nil, errors.Errorf("relation config for %s: foreign key or parent table is required", c.Table)
		}
		c.ForeignKey = ForeignKeyName(c.ParentTable)
	}
	return c, table, nil
}

func keyField(schema *engine.TableSchema) string {
	if pk := schema.PrimaryKey(); pk != nil {
		return pk.Name
	}
	return DefaultKeyField
}

func baseName(table string) string {
	for i := len(table) - 1; i >= 0; i-- {
		if table[i] == '.' {
			return table[i+1:]
		}
	}
	return table
}

func sameKey(a, b interface{}) bool {
	return a != nil && b != nil && engine.KeyOf(a) == engine.KeyOf(b)
}
