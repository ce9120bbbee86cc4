package relation

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// CrossLinkConfig describes a many-to-many relation: Config names the
// junction table, the remaining fields name the target table.
type CrossLinkConfig struct {
	Config
	TargetTable string
	// TargetForeignKey is the junction field holding the target key.
	// Defaults to the singular target table name followed by "Id".
	TargetForeignKey string
	// TargetPrimaryKey defaults to the target schema's key.
	TargetPrimaryKey string
	// TargetTextField is the descriptive field AddText matches on.
	TargetTextField string
	// AutoAddTarget lets AddText create a missing target row.
	AutoAddTarget bool
}

// CrossLinkCollection exposes the junction rows of one parent as items and
// resolves the target rows they point at.
type CrossLinkCollection[T Item] struct {
	*Collection[T]
	xcfg    CrossLinkConfig
	targets *engine.Table
}

// NewCrossLink builds a many-to-many collection.
func NewCrossLink[T Item](snap *engine.RecordSnapshot, parent *engine.Row, cfg CrossLinkConfig, factory func(*engine.Row) T, opts ...Option) (*CrossLinkCollection[T], error) {
	if cfg.TargetTable == "" {
		return nil, errors.New("cross-link config: target table is required")
	}
	targets := snap.Table(cfg.TargetTable)
	if targets == nil {
		return nil, errors.Errorf("Table doesn't exist: %s", cfg.TargetTable)
	}

	base, err := New(snap, parent, cfg.Config, factory, opts...)
	if err != nil {
		return nil, err
	}
	cfg.Config = base.cfg
	if cfg.TargetPrimaryKey == "" {
		cfg.TargetPrimaryKey = keyField(targets.Schema())
	}
	if cfg.TargetForeignKey == "" {
		cfg.TargetForeignKey = ForeignKeyName(cfg.TargetTable)
	}
	return &CrossLinkCollection[T]{Collection: base, xcfg: cfg, targets: targets}, nil
}

// CrossLinkConfig returns the resolved configuration
func (c *CrossLinkCollection[T]) CrossLinkConfig() CrossLinkConfig { return c.xcfg }

// AddTarget links the parent to the existing target with key id. Linking a
// target twice returns the existing link.
func (c *CrossLinkCollection[T]) AddTarget(id interface{}) (T, error) {
	var zero T
	target := c.targets.FindBy(c.xcfg.TargetPrimaryKey, id)
	if target == nil {
		return zero, errors.Wrapf(ErrTargetNotFound, "%s %s=%v", c.targets.Name(), c.xcfg.TargetPrimaryKey, id)
	}
	return c.link(target)
}

// AddText links the target whose descriptive text matches text,
// case-insensitively. A missing target is created when AutoAddTarget is on.
func (c *CrossLinkCollection[T]) AddText(text string) (T, error) {
	var zero T
	if c.xcfg.TargetTextField == "" {
		return zero, errors.Errorf("cross-link %s: target text field is not configured", c.table.Name())
	}

	target := c.findTarget(text)
	if target == nil {
		if !c.xcfg.AutoAddTarget {
			return zero, errors.Wrapf(ErrTargetNotFound, "%s %s=%q", c.targets.Name(), c.xcfg.TargetTextField, text)
		}
		created, err := c.createTarget(text)
		if err != nil {
			return zero, err
		}
		target = created
	}
	return c.link(target)
}

func (c *CrossLinkCollection[T]) findTarget(text string) *engine.Row {
	text = strings.TrimSpace(text)
	matches := c.targets.Select(func(r *engine.Row) bool {
		return strings.EqualFold(strings.TrimSpace(r.String(c.xcfg.TargetTextField)), text)
	})
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func (c *CrossLinkCollection[T]) createTarget(text string) (*engine.Row, error) {
	row := c.targets.NewRow()
	if err := c.defaults.Apply(row); err != nil {
		row.Delete()
		return nil, err
	}
	if err := row.Set(c.xcfg.TargetTextField, strings.TrimSpace(text)); err != nil {
		row.Delete()
		return nil, errors.Wrapf(err, "create %s", c.targets.Name())
	}
	return row, nil
}

func (c *CrossLinkCollection[T]) link(target *engine.Row) (T, error) {
	var zero T
	key := target.Get(c.xcfg.TargetPrimaryKey)
	if key == nil {
		return zero, errors.Wrapf(ErrKeyUnset, "target %s.%s", c.targets.Name(), c.xcfg.TargetPrimaryKey)
	}
	for _, r := range c.Rows() {
		if sameKey(r.Get(c.xcfg.TargetForeignKey), key) {
			return c.factory(r), nil
		}
	}

	row, err := c.newRow()
	if err != nil {
		return zero, err
	}
	if err := row.Set(c.xcfg.TargetForeignKey, key); err != nil {
		row.Delete()
		return zero, errors.Wrapf(err, "link %s to %s", c.table.Name(), c.targets.Name())
	}
	return c.factory(row), nil
}

// Contains reports whether a linked target carries text
func (c *CrossLinkCollection[T]) Contains(text string) bool {
	text = strings.TrimSpace(text)
	for _, t := range c.Targets() {
		if strings.EqualFold(strings.TrimSpace(t.String(c.xcfg.TargetTextField)), text) {
			return true
		}
	}
	return false
}

// Targets returns the live target rows linked to the parent, in link order.
func (c *CrossLinkCollection[T]) Targets() []*engine.Row {
	var out []*engine.Row
	for _, r := range c.Rows() {
		key := r.Get(c.xcfg.TargetForeignKey)
		if key == nil {
			continue
		}
		if t := c.targets.FindBy(c.xcfg.TargetPrimaryKey, key); t != nil {
			out = append(out, t)
		}
	}
	return out
}
