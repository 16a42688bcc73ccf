// Package rules maps risk estimates onto decision states and risk tiers.
package rules

import (
	"fmt"
	"math"
	"slices"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Rule identifiers of the default decision table.
const (
	RuleDeclineConfident    = "decline_confident"
	RuleEscalateUncertain   = "escalate_uncertain"
	RuleStepUpBand          = "step_up_band"
	RuleAbstainLowUncertain = "abstain_low_uncertain"
	RuleNoveltyEscalate     = "novelty_escalate"
	RuleDefaultApprove      = "default_approve"
)

// DecisionRule is one row of the ordered decision table.
// Expression is a CEL boolean over risk, uncertainty, novelty and the
// threshold variables.
type DecisionRule struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Expression string               `json:"expression"`
	Decision   domain.DecisionState `json:"decision"`
}

// DefaultDecisionRules returns the decision table in priority order.
// The first matching rule wins.
func DefaultDecisionRules() []DecisionRule {
	return []DecisionRule{
		{
			ID:         RuleDeclineConfident,
			Name:       "Confident high risk",
			Expression: "risk >= decline_threshold && uncertainty < uncertainty_threshold",
			Decision:   domain.DecisionDecline,
		},
		{
			ID:         RuleEscalateUncertain,
			Name:       "Uncertain elevated risk",
			Expression: "risk >= escalate_threshold && uncertainty >= uncertainty_threshold",
			Decision:   domain.DecisionEscalateInvest,
		},
		{
			ID:         RuleStepUpBand,
			Name:       "Step-up band",
			Expression: "risk >= auth_threshold && risk < decline_threshold",
			Decision:   domain.DecisionStepUpAuth,
		},
		{
			ID:         RuleAbstainLowUncertain,
			Name:       "Uncertain low risk",
			Expression: "risk < auth_threshold && uncertainty >= uncertainty_threshold",
			Decision:   domain.DecisionAbstain,
		},
		{
			ID:         RuleNoveltyEscalate,
			Name:       "Novel input",
			Expression: "novelty",
			Decision:   domain.DecisionEscalateInvest,
		},
		{
			ID:         RuleDefaultApprove,
			Name:       "Default",
			Expression: "true",
			Decision:   domain.DecisionApprove,
		},
	}
}

// Route is the outcome of one routing call.
type Route struct {
	// Decision is the canonical five-state decision.
	Decision domain.DecisionState

	// Label is Decision as seen through the router's view.
	Label domain.DecisionState

	// RuleID identifies the matched rule.
	RuleID string
}

// Router evaluates the compiled decision table. It is immutable after
// construction and safe for concurrent use.
type Router struct {
	rules      []compiledRule
	thresholds domain.Thresholds
	view       domain.DecisionView
}

type compiledRule struct {
	rule    DecisionRule
	program cel.Program
}

// NewRouter compiles the default decision table.
func NewRouter(thresholds domain.Thresholds, view domain.DecisionView) (*Router, error) {
	return NewRouterWithRules(thresholds, view, DefaultDecisionRules())
}

// NewRouterWithRules compiles a custom decision table. When no rule
// matches, the router falls back to APPROVE.
func NewRouterWithRules(thresholds domain.Thresholds, view domain.DecisionView, table []DecisionRule) (*Router, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if view == "" {
		view = domain.ViewCanonical
	}
	if !view.Valid() {
		return nil, fmt.Errorf("%w: unknown decision view %q", domain.ErrInvalidConfig, view)
	}

	env, err := newDecisionEnv()
	if err != nil {
		return nil, err
	}

	compiled := make([]compiledRule, 0, len(table))
	for _, rule := range table {
		if !slices.Contains(domain.CanonicalDecisions(), rule.Decision) {
			return nil, fmt.Errorf("%w: rule %s routes to non-canonical decision %q",
				domain.ErrInvalidConfig, rule.ID, rule.Decision)
		}
		program, err := compileRule(env, rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, program: program})
	}

	return &Router{
		rules:      compiled,
		thresholds: thresholds,
		view:       view,
	}, nil
}

func newDecisionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk", cel.DoubleType),
		cel.Variable("uncertainty", cel.DoubleType),
		cel.Variable("novelty", cel.BoolType),
		cel.Variable("decline_threshold", cel.DoubleType),
		cel.Variable("escalate_threshold", cel.DoubleType),
		cel.Variable("auth_threshold", cel.DoubleType),
		cel.Variable("uncertainty_threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileRule(env *cel.Env, rule DecisionRule) (cel.Program, error) {
	ast, issues := env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrInvalidConfig, rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s",
			domain.ErrInvalidConfig, rule.ID, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for rule %s: %v", domain.ErrInvalidConfig, rule.ID, err)
	}
	return program, nil
}

// Route maps (risk, uncertainty, novelty) to a decision.
func (r *Router) Route(risk, uncertainty float64, novelty bool) (Route, error) {
	if math.IsNaN(risk) || risk < 0 || risk > 1 {
		return Route{}, fmt.Errorf("%w: risk must be within [0,1], got %v", domain.ErrInvalidRiskInput, risk)
	}
	if math.IsNaN(uncertainty) || math.IsInf(uncertainty, 0) || uncertainty < 0 {
		return Route{}, fmt.Errorf("%w: uncertainty must be finite and non-negative, got %v",
			domain.ErrInvalidRiskInput, uncertainty)
	}

	activation := map[string]any{
		"risk":                  risk,
		"uncertainty":           uncertainty,
		"novelty":               novelty,
		"decline_threshold":     r.thresholds.Decline,
		"escalate_threshold":    r.thresholds.Escalate,
		"auth_threshold":        r.thresholds.Auth,
		"uncertainty_threshold": r.thresholds.Uncertainty,
	}

	for _, cr := range r.rules {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			return Route{}, fmt.Errorf("rule %s evaluation error: %w", cr.rule.ID, err)
		}
		if out == types.True {
			return r.route(cr.rule.Decision, cr.rule.ID), nil
		}
	}

	return r.route(domain.DecisionApprove, RuleDefaultApprove), nil
}

func (r *Router) route(d domain.DecisionState, ruleID string) Route {
	return Route{
		Decision: d,
		Label:    r.view.Label(d),
		RuleID:   ruleID,
	}
}

// View returns the label view applied to decisions.
func (r *Router) View() domain.DecisionView {
	return r.view
}

// Thresholds returns the cutoffs the router was compiled with.
func (r *Router) Thresholds() domain.Thresholds {
	return r.thresholds
}

// Rules returns the decision table in evaluation order.
func (r *Router) Rules() []DecisionRule {
	out := make([]DecisionRule, len(r.rules))
	for i, cr := range r.rules {
		out[i] = cr.rule
	}
	return out
}
