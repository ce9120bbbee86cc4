package relation

import (
	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// Item is a typed view over one snapshot row
type Item interface {
	Row() *engine.Row
}

// Record is the embeddable base of typed items
type Record struct {
	row *engine.Row
}

func NewRecord(row *engine.Row) Record { return Record{row: row} }

func (r Record) Row() *engine.Row { return r.row }

func (r Record) Get(field string) interface{} { return r.row.Get(field) }

func (r Record) String(field string) string { return r.row.String(field) }

func (r Record) Int(field string) int64 { return r.row.Int(field) }

func (r Record) Set(field string, value interface{}) error { return r.row.Set(field, value) }

// Option customizes a collection
type Option func(*options)

type options struct {
	defaults *Defaults
}

// WithDefaults applies d to every row the collection creates
func WithDefaults(d *Defaults) Option {
	return func(o *options) { o.defaults = d }
}

// ============================================================
// ONE-TO-MANY COLLECTION
// ============================================================

// Collection exposes the child rows of one parent row as typed items.
// Positions are ordinal over the live rows and are resolved again on every
// call, so they shift after a removal.
type Collection[T Item] struct {
	cfg      Config
	table    *engine.Table
	parent   *engine.Row
	factory  func(*engine.Row) T
	defaults *Defaults
	// order sorts the live rows before they are indexed; nil keeps table order.
	order func([]*engine.Row)
}

// New builds a one-to-many collection over the snapshot table named by cfg.
func New[T Item](snap *engine.RecordSnapshot, parent *engine.Row, cfg Config, factory func(*engine.Row) T, opts ...Option) (*Collection[T], error) {
	if parent == nil {
		return nil, errors.New("relation: parent row is required")
	}
	if factory == nil {
		return nil, errors.New("relation: item factory is required")
	}
	resolved, table, err := cfg.resolve(snap, parent)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Collection[T]{
		cfg:      resolved,
		table:    table,
		parent:   parent,
		factory:  factory,
		defaults: o.defaults,
	}, nil
}

// Config returns the resolved configuration
func (c *Collection[T]) Config() Config { return c.cfg }

func (c *Collection[T]) Parent() *engine.Row { return c.parent }

func (c *Collection[T]) Table() *engine.Table { return c.table }

func (c *Collection[T]) parentKey() interface{} {
	return c.parent.Get(c.cfg.ParentKey)
}

// Rows returns the live child rows in collection order
func (c *Collection[T]) Rows() []*engine.Row {
	key := c.parentKey()
	rows := c.table.Select(func(r *engine.Row) bool {
		return sameKey(r.Get(c.cfg.ForeignKey), key)
	})
	if c.order != nil {
		c.order(rows)
	}
	return rows
}

// Add creates a child row linked to the parent
func (c *Collection[T]) Add() (T, error) {
	row, err := c.newRow()
	if err != nil {
		var zero T
		return zero, err
	}
	return c.factory(row), nil
}

func (c *Collection[T]) newRow() (*engine.Row, error) {
	key := c.parentKey()
	if key == nil {
		return nil, errors.Wrapf(ErrKeyUnset, "parent %s.%s", c.parent.Table().Name(), c.cfg.ParentKey)
	}
	row := c.table.NewRow()
	if err := c.defaults.Apply(row); err != nil {
		row.Delete()
		return nil, err
	}
	if err := row.Set(c.cfg.ForeignKey, key); err != nil {
		row.Delete()
		return nil, errors.Wrapf(err, "link %s to %s", c.table.Name(), c.cfg.ParentTable)
	}
	return row, nil
}

func (c *Collection[T]) Count() int { return len(c.Rows()) }

// At returns the item at ordinal position i
func (c *Collection[T]) At(i int) (T, error) {
	row, err := c.rowAt(i)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.factory(row), nil
}

func (c *Collection[T]) rowAt(i int) (*engine.Row, error) {
	rows := c.Rows()
	if i < 0 || i >= len(rows) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "%s[%d] of %d", c.table.Name(), i, len(rows))
	}
	return rows[i], nil
}

// Remove deletes the item at ordinal position i
func (c *Collection[T]) Remove(i int) error {
	row, err := c.rowAt(i)
	if err != nil {
		return err
	}
	row.Delete()
	return nil
}

// RemoveItem deletes item when it belongs to the collection
func (c *Collection[T]) RemoveItem(item T) error {
	row := item.Row()
	if !c.contains(row) {
		return errors.Wrapf(ErrNotMember, "%s row %s", c.table.Name(), row.ID())
	}
	row.Delete()
	return nil
}

func (c *Collection[T]) contains(row *engine.Row) bool {
	if row == nil || row.Table() != c.table || row.IsDeleted() {
		return false
	}
	return sameKey(row.Get(c.cfg.ForeignKey), c.parentKey())
}

// Items returns every live item in collection order
func (c *Collection[T]) Items() []T {
	rows := c.Rows()
	items := make([]T, len(rows))
	for i, r := range rows {
		items[i] = c.factory(r)
	}
	return items
}

// Each calls fn for every item until fn returns false
func (c *Collection[T]) Each(fn func(i int, item T) bool) {
	for i, item := range c.Items() {
		if !fn(i, item) {
			return
		}
	}
}
