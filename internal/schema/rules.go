package schema

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema/datatype"
)

// RuleEnv is the environment a rule expression runs in. It only exposes the segment the
// rule is evaluated against, so rule results stay local to that segment.
type RuleEnv struct {
	Code      string                `expr:"code"`
	Field     func(n int) string    `expr:"field"`
	Component func(n, c int) string `expr:"component"`
	Reps      func(n int) int       `expr:"reps"`
	Present   func(n int) bool      `expr:"present"`
}

type compiledRule struct {
	program *vm.Program
}

func ruleOptions() []expr.Option {
	return []expr.Option{
		expr.Env(RuleEnv{}),
		expr.AsBool(),
		expr.Function("num", func(params ...any) (any, error) {
			s, _ := params[0].(string)
			n, err := datatype.ParseNumeric(s)
			if err != nil {
				return 0.0, nil
			}
			return n.InexactFloat64(), nil
		}, new(func(string) float64)),
	}
}

func compileRule(r *Rule) error {
	if r.Expr == "" {
		return fmt.Errorf("rule %q: expr is required", r.Name)
	}
	program, err := expr.Compile(r.Expr, ruleOptions()...)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	r.program = &compiledRule{program: program}
	return nil
}

// NewRuleEnv binds the rule environment to segment idx of msg.
func NewRuleEnv(msg *model.Message, idx int) RuleEnv {
	seg := msg.Segments[idx]
	value := func(n, rep, c int) string {
		return msg.Value(model.Path{Segment: idx, Field: n, Repetition: rep, Component: c})
	}
	reps := func(n int) int {
		f, ok := seg.Field(n)
		if !ok || f.Span.Len() == 0 {
			return 0
		}
		return len(f.Reps)
	}
	return RuleEnv{
		Code:      seg.Code,
		Field:     func(n int) string { return value(n, 1, 0) },
		Component: func(n, c int) string { return value(n, 1, c) },
		Reps:      reps,
		Present: func(n int) bool {
			return reps(n) > 0 && seg.Raw(seg.Fields[n].Span) != `""`
		},
	}
}

// Eval runs the rule against segment idx of msg.
func (r Rule) Eval(msg *model.Message, idx int) (bool, error) {
	if r.program == nil {
		if err := compileRule(&r); err != nil {
			return false, err
		}
	}
	out, err := expr.Run(r.program.program, NewRuleEnv(msg, idx))
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
