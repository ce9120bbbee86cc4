package rules

import (
	"fmt"
	"strings"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// Severity tells whether a violation blocks a save
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity accepts "warning" and "error", case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	}
	return Warning, fmt.Errorf("unknown severity %q", s)
}

// Rule verifies the rows of one table.
type Rule interface {
	Name() string
	Table() string
	Severity() Severity
	// Verify inspects one live row and records what it finds in res.
	Verify(row *engine.Row, res *Result)
}

// RowRule adapts a predicate into a Rule. Check returns an empty message
// when the row passes.
type RowRule struct {
	RuleName  string
	TableName string
	Level     Severity
	Check     func(row *engine.Row) string
}

// NewRowRule builds a RowRule
func NewRowRule(name, table string, level Severity, check func(row *engine.Row) string) *RowRule {
	return &RowRule{RuleName: name, TableName: table, Level: level, Check: check}
}

func (r *RowRule) Name() string { return r.RuleName }

func (r *RowRule) Table() string { return r.TableName }

func (r *RowRule) Severity() Severity { return r.Level }

func (r *RowRule) Verify(row *engine.Row, res *Result) {
	if r.Check == nil {
		return
	}
	if msg := r.Check(row); msg != "" {
		res.Add(Violation{
			Rule:     r.RuleName,
			Table:    row.Table().Name(),
			Row:      row,
			Severity: r.Level,
			Message:  msg,
		})
	}
}

// Required reports rows whose field is null or blank
func Required(table, field string, level Severity) *RowRule {
	return NewRowRule("required:"+field, table, level, func(row *engine.Row) string {
		v := row.Get(field)
		if v == nil || strings.TrimSpace(row.String(field)) == "" {
			return fmt.Sprintf("%s is required", field)
		}
		return ""
	})
}

// MaxLength reports string fields longer than n characters
func MaxLength(table, field string, n int, level Severity) *RowRule {
	return NewRowRule(fmt.Sprintf("maxlength:%s", field), table, level, func(row *engine.Row) string {
		if l := len([]rune(row.String(field))); l > n {
			return fmt.Sprintf("%s is %d characters long, the limit is %d", field, l, n)
		}
		return ""
	})
}
