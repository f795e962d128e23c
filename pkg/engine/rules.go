// Package engine implements the Intent & Routing Engine:
// a two-stage classifier plus a data-driven routing-lane rule table.
package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/sipeed/turnhub/pkg/domain"
)

// rule is one entry of the routing-lane table: if Expr evaluates true for
// the turn's (tag, dimensions) activation, Lane is selected. Rules are
// evaluated in order; the first match wins. A rule table maps
// (tag, dimensions) → lane, compiled once via cel.NewEnv/Compile instead
// of a hand-coded switch.
type rule struct {
	Name    string
	Expr    string
	Lane    domain.RoutingLane
	program cel.Program
}

// RuleTable compiles and evaluates the routing-lane rules.
type RuleTable struct {
	rules []*rule
	env   *cel.Env
}

// defaultRules encodes routing-lane selection:
//   - direct-automation tags -> direct_auto
//   - send_email / generate_post_prompt_package -> approval_gated
//   - everything else -> llm_reply
//
// Expressed as CEL over five variables: `tag` (string), `is_direct_auto`
// / `is_approval_gated` (bool, precomputed from the closed sets since CEL
// has no access to Go maps without a custom provider), and the
// `professional_tone_required` / `creative_requirement` dimensions, which
// the default rules do not reference.
var defaultRules = []*rule{
	{Name: "direct-automation", Expr: `is_direct_auto`, Lane: domain.LaneDirectAuto},
	{Name: "approval-gated", Expr: `is_approval_gated`, Lane: domain.LaneApprovalGated},
	{Name: "fallback-llm-reply", Expr: `true`, Lane: domain.LaneLLMReply},
}

// NewRuleTable compiles the built-in defaultRules. It reads no external
// rule file (cfg.Engine.RulesPath is not consulted), so changing the table
// means changing defaultRules.
func NewRuleTable() (*RuleTable, error) {
	env, err := cel.NewEnv(
		cel.Variable("tag", cel.StringType),
		cel.Variable("is_direct_auto", cel.BoolType),
		cel.Variable("is_approval_gated", cel.BoolType),
		cel.Variable("professional_tone_required", cel.BoolType),
		cel.Variable("creative_requirement", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: creating CEL env: %w", err)
	}

	rt := &RuleTable{env: env}
	for _, r := range defaultRules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("engine: compiling rule %q: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("engine: programming rule %q: %w", r.Name, err)
		}
		r.program = prg
		rt.rules = append(rt.rules, r)
	}
	return rt, nil
}

// Evaluate runs the table against one turn's classification and returns
// the first matching lane.
func (rt *RuleTable) Evaluate(tag domain.IntentTag, dims domain.Dimensions) (domain.RoutingLane, error) {
	vars := map[string]interface{}{
		"tag":                        string(tag),
		"is_direct_auto":             domain.DirectAutomationSet[tag],
		"is_approval_gated":          domain.ApprovalGatedSet[tag],
		"professional_tone_required": dims.ProfessionalToneRequired,
		"creative_requirement":       dims.CreativeRequirement,
	}
	for _, r := range rt.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			return "", fmt.Errorf("engine: evaluating rule %q: %w", r.Name, err)
		}
		if match, ok := out.Value().(bool); ok && match {
			return r.Lane, nil
		}
	}
	return domain.LaneLLMReply, nil
}

// NeedsSequentialRewrite reports whether the second-model sequential path
// applies: professional tone required and a meaningful
// creative requirement.
func NeedsSequentialRewrite(dims domain.Dimensions) bool {
	return dims.ProfessionalToneRequired && (dims.CreativeRequirement == "med" || dims.CreativeRequirement == "high")
}
