package relation

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// DefaultLineNumberField is used when LineConfig leaves LineNumberField empty.
const DefaultLineNumberField = "LineNumber"

// LineConfig describes ordered, optionally nested line items.
type LineConfig struct {
	Config
	LineNumberField string
	// ParentLineField holds the key of the enclosing line. Empty disables
	// nesting.
	ParentLineField string
	// MaintainIntegrity keeps line numbers a contiguous 1..Count()
	// permutation on every write.
	MaintainIntegrity bool
}

// LineCollection keeps 1-based line numbers over the live child rows and
// supports a self-referencing parent line.
type LineCollection[T Item] struct {
	*Collection[T]
	lcfg LineConfig
}

// NewLines builds a line-item collection ordered by line number.
func NewLines[T Item](snap *engine.RecordSnapshot, parent *engine.Row, cfg LineConfig, factory func(*engine.Row) T, opts ...Option) (*LineCollection[T], error) {
	base, err := New(snap, parent, cfg.Config, factory, opts...)
	if err != nil {
		return nil, err
	}
	cfg.Config = base.cfg
	if cfg.LineNumberField == "" {
		cfg.LineNumberField = DefaultLineNumberField
	}

	lc := &LineCollection[T]{Collection: base, lcfg: cfg}
	base.order = lc.sortRows
	return lc, nil
}

// LineConfig returns the resolved configuration
func (c *LineCollection[T]) LineConfig() LineConfig { return c.lcfg }

func (c *LineCollection[T]) sortRows(rows []*engine.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return c.line(rows[i]) < c.line(rows[j])
	})
}

func (c *LineCollection[T]) line(row *engine.Row) int {
	return int(row.Int(c.lcfg.LineNumberField))
}

func (c *LineCollection[T]) setLine(row *engine.Row, n int) error {
	if c.line(row) == n && row.Get(c.lcfg.LineNumberField) != nil {
		return nil
	}
	return row.Set(c.lcfg.LineNumberField, int64(n))
}

// LineNumber returns the item's current line number
func (c *LineCollection[T]) LineNumber(item T) int { return c.line(item.Row()) }

// ============================================================
// ADDING LINES
// ============================================================

// Add appends a top-level line numbered Count()+1
func (c *LineCollection[T]) Add() (T, error) {
	return c.add(nil)
}

// AddChild appends a line nested under parent
func (c *LineCollection[T]) AddChild(parent T) (T, error) {
	var zero T
	if c.lcfg.ParentLineField == "" {
		return zero, errors.Errorf("line collection %s: parent line field is not configured", c.table.Name())
	}
	if !c.contains(parent.Row()) {
		return zero, errors.Wrapf(ErrNotMember, "parent line %s", parent.Row().ID())
	}
	key := c.key(parent.Row())
	if key == nil {
		return zero, errors.Wrapf(ErrKeyUnset, "parent line %s.%s", c.table.Name(), c.cfg.PrimaryKey)
	}
	return c.add(key)
}

func (c *LineCollection[T]) add(parentKey interface{}) (T, error) {
	var zero T
	next := c.Count() + 1
	row, err := c.newRow()
	if err != nil {
		return zero, err
	}
	if err := row.Set(c.lcfg.LineNumberField, int64(next)); err != nil {
		row.Delete()
		return zero, errors.Wrap(err, "number new line")
	}
	if parentKey != nil {
		if err := row.Set(c.lcfg.ParentLineField, parentKey); err != nil {
			row.Delete()
			return zero, errors.Wrap(err, "nest new line")
		}
	}
	return c.factory(row), nil
}

func (c *LineCollection[T]) key(row *engine.Row) interface{} {
	return row.Get(c.cfg.PrimaryKey)
}

// ============================================================
// RENUMBERING
// ============================================================

// SetLineNumber moves item to line n. With integrity on, the lines between
// the old and new position shift by one so numbering stays contiguous.
// Without it, lines at n and below move down to make room and the gap left
// at the old position stays.
func (c *LineCollection[T]) SetLineNumber(item T, n int) error {
	row := item.Row()
	if !c.contains(row) {
		return errors.Wrapf(ErrNotMember, "line %s", row.ID())
	}
	count := c.Count()
	if n < 1 || n > count {
		return errors.Wrapf(ErrLineOutOfRange, "line %d of %d", n, count)
	}

	old := c.line(row)
	if old == n {
		return nil
	}

	for _, other := range c.Rows() {
		if other == row {
			continue
		}
		cur := c.line(other)
		shifted := cur
		switch {
		case !c.lcfg.MaintainIntegrity:
			if cur >= n {
				shifted = cur + 1
			}
		case n < old && cur >= n && cur < old:
			shifted = cur + 1
		case n > old && cur > old && cur <= n:
			shifted = cur - 1
		}
		if shifted != cur {
			if err := c.setLine(other, shifted); err != nil {
				return err
			}
		}
	}
	return c.setLine(row, n)
}

// MoveUp swaps item with the line above it. It returns false on the first line.
func (c *LineCollection[T]) MoveUp(item T) bool {
	return c.swap(item.Row(), -1)
}

// MoveDown swaps item with the line below it. It returns false on the last line.
func (c *LineCollection[T]) MoveDown(item T) bool {
	return c.swap(item.Row(), 1)
}

func (c *LineCollection[T]) swap(row *engine.Row, delta int) bool {
	if !c.contains(row) {
		return false
	}
	rows := c.Rows()
	pos := -1
	for i, r := range rows {
		if r == row {
			pos = i
			break
		}
	}
	target := pos + delta
	if pos < 0 || target < 0 || target >= len(rows) {
		return false
	}

	neighbour := rows[target]
	mine, theirs := c.line(row), c.line(neighbour)
	if mine == theirs {
		theirs = mine + delta
	}
	if c.setLine(row, theirs) != nil || c.setLine(neighbour, mine) != nil {
		return false
	}
	return true
}

// Renumber assigns 1..Count() in the current order
func (c *LineCollection[T]) Renumber() error {
	for i, r := range c.Rows() {
		if err := c.setLine(r, i+1); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================
// HIERARCHY
// ============================================================

// childIndex maps a parent line key to its child rows in line order. It is
// rebuilt on every call.
func (c *LineCollection[T]) childIndex() map[string][]*engine.Row {
	index := make(map[string][]*engine.Row)
	if c.lcfg.ParentLineField == "" {
		return index
	}
	for _, r := range c.Rows() {
		if p := r.Get(c.lcfg.ParentLineField); p != nil {
			k := engine.KeyOf(p)
			index[k] = append(index[k], r)
		}
	}
	return index
}

// Children returns the lines directly nested under item
func (c *LineCollection[T]) Children(item T) []T {
	key := c.key(item.Row())
	if key == nil {
		return nil
	}
	return c.wrap(c.childIndex()[engine.KeyOf(key)])
}

// Descendants returns every line nested under item, breadth first
func (c *LineCollection[T]) Descendants(item T) []T {
	return c.wrap(c.descendantRows(item.Row()))
}

func (c *LineCollection[T]) descendantRows(root *engine.Row) []*engine.Row {
	index := c.childIndex()
	seen := map[uuid.UUID]bool{root.ID(): true}
	var out []*engine.Row
	queue := []*engine.Row{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := c.key(cur)
		if key == nil {
			continue
		}
		for _, child := range index[engine.KeyOf(key)] {
			if seen[child.ID()] {
				continue
			}
			seen[child.ID()] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func (c *LineCollection[T]) wrap(rows []*engine.Row) []T {
	items := make([]T, len(rows))
	for i, r := range rows {
		items[i] = c.factory(r)
	}
	return items
}

// ============================================================
// REMOVAL
// ============================================================

// Remove deletes item together with every nested line, then renumbers the
// remaining lines contiguously. Rows are tracked by identity because each
// removal can change the ordinal positions of the others.
func (c *LineCollection[T]) Remove(item T) error {
	root := item.Row()
	if !c.contains(root) {
		return errors.Wrapf(ErrNotMember, "line %s", root.ID())
	}

	pending := make(map[uuid.UUID]bool)
	for _, d := range c.descendantRows(root) {
		pending[d.ID()] = true
	}
	for len(pending) > 0 {
		removed := false
		for _, r := range c.Rows() {
			if pending[r.ID()] {
				delete(pending, r.ID())
				r.Delete()
				removed = true
				break
			}
		}
		if !removed {
			break
		}
	}

	if row := c.table.RowByID(root.ID()); row != nil {
		row.Delete()
	}
	return c.Renumber()
}

// RemoveItem is Remove
func (c *LineCollection[T]) RemoveItem(item T) error { return c.Remove(item) }

// RemoveAt removes the line at ordinal position i with its nested lines
func (c *LineCollection[T]) RemoveAt(i int) error {
	row, err := c.rowAt(i)
	if err != nil {
		return err
	}
	return c.Remove(c.factory(row))
}
