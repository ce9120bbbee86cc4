package rules

import (
	"fmt"
	"strings"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// Violation is one finding of a rule. Row is nil for findings about the
// snapshot as a whole, such as a missing table.
type Violation struct {
	Rule     string
	Table    string
	Row      *engine.Row
	Severity Severity
	Message  string
}

func (v Violation) String() string {
	if v.Row != nil {
		return fmt.Sprintf("[%s] %s (%s row %s): %s", v.Severity, v.Rule, v.Table, v.Row.ID(), v.Message)
	}
	return fmt.Sprintf("[%s] %s (%s): %s", v.Severity, v.Rule, v.Table, v.Message)
}

// Result is the violations log of one validation run
type Result struct {
	Violations []Violation
}

func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// Merge appends the violations of other
func (r *Result) Merge(other Result) {
	r.Violations = append(r.Violations, other.Violations...)
}

func (r Result) HasErrors() bool {
	for _, v := range r.Violations {
		if v.Severity == Error {
			return true
		}
	}
	return false
}

func (r Result) Warnings() []Violation { return r.filter(Warning) }

func (r Result) Errors() []Violation { return r.filter(Error) }

func (r Result) filter(s Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == s {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned by Engine.Validate when error-severity
// violations exist.
type RuleViolationError struct {
	Violations []Violation
}

func (e *RuleViolationError) Error() string {
	if len(e.Violations) == 1 {
		return "rule violation: " + e.Violations[0].String()
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%d rule violations:\n  %s", len(e.Violations), strings.Join(msgs, "\n  "))
}

func (e *RuleViolationError) Code() string { return "RULE_VIOLATION" }
