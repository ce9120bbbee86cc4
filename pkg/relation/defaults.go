package relation

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// Defaults holds field values applied to every row a collection creates.
// The caller builds it once, usually resolving lookups such as a default
// country id up front, and hands it to the collections that need it.
type Defaults struct {
	tables map[string]engine.Values
}

func NewDefaults() *Defaults {
	return &Defaults{tables: make(map[string]engine.Values)}
}

// Set registers a default value for table.field
func (d *Defaults) Set(table, field string, value interface{}) *Defaults {
	key := strings.ToLower(table)
	if d.tables[key] == nil {
		d.tables[key] = make(engine.Values)
	}
	d.tables[key][field] = value
	return d
}

// Resolve computes a default once through fn and registers it.
func (d *Defaults) Resolve(table, field string, fn func() (interface{}, error)) error {
	if _, ok := d.Get(table, field); ok {
		return nil
	}
	v, err := fn()
	if err != nil {
		return errors.Wrapf(err, "resolve default %s.%s", table, field)
	}
	d.Set(table, field, v)
	return nil
}

// Get returns the default registered for table.field
func (d *Defaults) Get(table, field string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	for name, v := range d.tables[strings.ToLower(table)] {
		if strings.EqualFold(name, field) {
			return v, true
		}
	}
	return nil, false
}

// Apply fills the row's null fields with the table defaults.
func (d *Defaults) Apply(row *engine.Row) error {
	if d == nil {
		return nil
	}
	for field, v := range d.tables[strings.ToLower(row.Table().Name())] {
		if row.Get(field) != nil {
			continue
		}
		if err := row.Set(field, v); err != nil {
			return errors.Wrapf(err, "apply default %s.%s", row.Table().Name(), field)
		}
	}
	return nil
}
