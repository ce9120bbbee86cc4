package rules

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// Engine applies registered rules to a snapshot. Findings are data: the
// engine never stops at the first violation.
type Engine struct {
	rules []Rule
	log   zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

func New(opts ...Option) *Engine {
	e := &Engine{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds rules in evaluation order
func (e *Engine) Register(rules ...Rule) *Engine {
	e.rules = append(e.rules, rules...)
	return e
}

func (e *Engine) Rules() []Rule { return e.rules }

// ApplyAll runs every rule over the live rows of its table. A rule whose
// table is not in the snapshot yields one warning.
func (e *Engine) ApplyAll(snap *engine.RecordSnapshot) Result {
	var res Result
	matched := make([]bool, len(e.rules))

	for _, table := range snap.Tables() {
		for i, rule := range e.rules {
			if !strings.EqualFold(rule.Table(), table.Name()) {
				continue
			}
			matched[i] = true
			for _, row := range table.LiveRows() {
				e.verify(rule, row, &res)
			}
		}
	}

	for i, rule := range e.rules {
		if matched[i] {
			continue
		}
		e.log.Warn().Str("rule", rule.Name()).Str("table", rule.Table()).Msg("rule table not in snapshot")
		res.Add(Violation{
			Rule:     rule.Name(),
			Table:    rule.Table(),
			Severity: Warning,
			Message:  fmt.Sprintf("table %s is not part of the snapshot", rule.Table()),
		})
	}
	return res
}

// verify shields the run from a panicking rule and records the panic as an
// error violation.
func (e *Engine) verify(rule Rule, row *engine.Row, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error().Str("rule", rule.Name()).Str("row", row.ID().String()).Interface("panic", p).Msg("rule panicked")
			res.Add(Violation{
				Rule:     rule.Name(),
				Table:    row.Table().Name(),
				Row:      row,
				Severity: Error,
				Message:  fmt.Sprintf("rule panicked: %v", p),
			})
		}
	}()
	rule.Verify(row, res)
}

// Validate implements engine.Validator. Warnings are logged and do not
// fail the validation.
func (e *Engine) Validate(snap *engine.RecordSnapshot) error {
	res := e.ApplyAll(snap)
	for _, w := range res.Warnings() {
		e.log.Debug().Str("rule", w.Rule).Str("table", w.Table).Msg(w.Message)
	}
	if !res.HasErrors() {
		return nil
	}
	return &RuleViolationError{Violations: res.Errors()}
}

var _ engine.Validator = (*Engine)(nil)
