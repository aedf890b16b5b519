package rule

import (
	"context"

	"github.com/tieba-mod/moderator/internal/domain"
)

// Rule is one user-owned rule, built from a domain.RuleConfig: an ordered
// ConditionGroup (short-circuit or DSL-governed) and an
// OperationGroup to run when it matches.
type Rule struct {
	Name               string
	ManualConfirm      bool
	Whitelist          bool
	ForceRecordContext bool
	Conditions         *ConditionGroup
	Operations         *OperationGroup
}

// Valid reports whether the rule has at least one condition whose
// options validated. A rule with zero conditions, or whose conditions
// are all invalid, never matches and is excluded from the effective
// rule group.
func (r *Rule) Valid() bool {
	return r.Conditions != nil && r.Conditions.ValidLen() > 0
}

// Check evaluates the rule's ConditionGroup against one Content.
func (r *Rule) Check(ctx context.Context, content *domain.Content) (CheckResult, error) {
	return r.Conditions.Evaluate(ctx, content)
}

// BuildRule constructs a Rule from its configuration, building the
// condition group via the given registries. A rule whose conditions fail
// to build is returned with an error; the caller (RuleGroup construction)
// excludes it rather than propagating the error to runtime.
func BuildRule(conditionRegistry *ConditionRegistry, operationRegistry *OperationRegistry, cfg domain.RuleConfig) (*Rule, error) {
	conditions, err := BuildConditionGroup(conditionRegistry, cfg.Conditions, cfg.Logic)
	if err != nil {
		return nil, err
	}

	operations, err := BuildOperationGroup(operationRegistry, cfg.OperationsToken, cfg.OperationsList)
	if err != nil {
		return nil, err
	}

	return &Rule{
		Name:               cfg.Name,
		ManualConfirm:      cfg.ManualConfirm,
		Whitelist:          cfg.Whitelist,
		ForceRecordContext: cfg.ForceRecordContext,
		Conditions:         conditions,
		Operations:         operations,
	}, nil
}

// RuleGroup is an ordered, validity-filtered collection of Rules evaluated
// in configured order.
type RuleGroup struct {
	rules []*Rule
}

// BuildRuleGroup builds every rule in cfgs, silently dropping any whose
// conditions fail to build or whose resulting Rule is invalid.
func BuildRuleGroup(conditionRegistry *ConditionRegistry, operationRegistry *OperationRegistry, cfgs []domain.RuleConfig) *RuleGroup {
	rules := make([]*Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		r, err := BuildRule(conditionRegistry, operationRegistry, cfg)
		if err != nil || !r.Valid() {
			continue
		}
		rules = append(rules, r)
	}
	return &RuleGroup{rules: rules}
}

func (g *RuleGroup) Len() int { return len(g.rules) }

// Rules returns the group's rules in configured (evaluation) order.
func (g *RuleGroup) Rules() []*Rule { return g.rules }
