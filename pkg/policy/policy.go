// Package policy evaluates review rules against draft content. Rules are
// CEL expressions compiled once at startup; each rule that matches (or
// cannot be evaluated) attaches its flag to the draft so a reviewer sees
// why it needs a closer look. Flags never block creation, they annotate.
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// Rule pairs a review flag with the CEL expression that raises it. The
// expression must evaluate to a boolean over the draft attributes
// target, payload, category and priority.
type Rule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// Input is the attribute set a rule sees. It mirrors the draft creation
// request; rules run before the draft exists.
type Input struct {
	Target   string
	Payload  string
	Category string
	Priority string
}

type compiledRule struct {
	name    string
	source  string
	program cel.Program
}

// Engine holds the compiled rule set.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles the rule set. A rule that fails to compile fails
// construction; a half-loaded rule set would silently skip reviews.
func NewEngine(rules []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("target", types.StringType),
			decls.NewVariable("payload", types.StringType),
			decls.NewVariable("category", types.StringType),
			decls.NewVariable("priority", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	e := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("review rule with expression %q has no name", r.Expression)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile review rule %q: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build review rule %q: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{name: r.Name, source: r.Expression, program: prg})
	}
	return e, nil
}

// Review returns the flags raised by the input, in rule declaration
// order. An expression that errors at evaluation time raises its flag
// anyway: a rule that cannot prove the content clean fails closed.
func (e *Engine) Review(_ context.Context, in Input) []string {
	input := map[string]any{
		"target":   in.Target,
		"payload":  in.Payload,
		"category": in.Category,
		"priority": in.Priority,
	}

	var flags []string
	for _, r := range e.rules {
		out, _, err := r.program.Eval(input)
		if err != nil {
			flags = append(flags, r.name)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			flags = append(flags, r.name)
		}
	}
	return flags
}

// Rules returns the loaded rule sources keyed by flag name.
func (e *Engine) Rules() map[string]string {
	out := make(map[string]string, len(e.rules))
	for _, r := range e.rules {
		out[r.name] = r.source
	}
	return out
}

// DefaultRules is the starter rule set used when the configuration does
// not provide one.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "mentions-money", Expression: `payload.contains("$") || payload.contains("refund") || payload.contains("invoice")`},
		{Name: "external-link", Expression: `payload.contains("http://") || payload.contains("https://")`},
		{Name: "high-stakes", Expression: `priority == "critical" || category == "accounting"`},
	}
}
