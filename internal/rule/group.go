package rule

import (
	"context"
	"sort"

	"github.com/tieba-mod/moderator/internal/domain"
)

// StepStatus records how a ConditionGroup reached its verdict: Index is set when a strict-AND group
// short-circuited to false at that condition index (into the original,
// unsorted Conditions slice); Successes/Failures partition the indices
// evaluated under a logic expression. Both are nil when evaluation never
// ran (e.g. the group is empty).
type StepStatus struct {
	Index     *int
	Successes []int
	Failures  []int
}

// CheckResult is the outcome of evaluating one ConditionGroup against one
// Content.
type CheckResult struct {
	Result bool
	Step   *StepStatus
	// Evaluated maps condition index (into the original Conditions slice)
	// to its computed truth, for every condition that was actually
	// evaluated. Used by the Processer for context-dedup recording.
	Evaluated map[int]bool
}

// ConditionGroup holds a rule's ordered conditions and, optionally, the
// boolean-expression DSL governing how they combine.
type ConditionGroup struct {
	conditions []*Condition
	// evalOrder lists indices into conditions, in the order they should
	// be checked: descending by priority (ties broken by original order),
	// with necessity-bumped indices (when logic is set) sorted first
	// among equal-priority peers.
	evalOrder []int
	logic     logicNode
}

// BuildConditionGroup constructs a ConditionGroup from descriptors,
// building each Condition via registry and, if expr is non-nil, parsing
// the DSL and computing the necessity-based priority bump.
func BuildConditionGroup(registry *ConditionRegistry, descs []domain.ConditionDescriptor, expr *domain.LogicExpression) (*ConditionGroup, error) {
	conditions := make([]*Condition, 0, len(descs))
	for _, desc := range descs {
		c, err := registry.Build(desc)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}

	g := &ConditionGroup{conditions: conditions}

	var necessary map[int]struct{}
	if expr != nil && expr.Expression != "" {
		node, err := parseLogic(expr.Expression)
		if err != nil {
			return nil, err
		}
		g.logic = node
		necessary = node.necessary()
	}

	priorities := make([]float64, len(conditions))
	for i, c := range conditions {
		priorities[i] = c.Priority
		if _, ok := necessary[i]; ok {
			priorities[i] += 0.5
		}
	}

	// Invalid conditions stay in the slice (so logic leaves and context
	// recording keep their original indices) but are excluded from the
	// evaluation order entirely.
	order := make([]int, 0, len(conditions))
	for i, c := range conditions {
		if c.Valid() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return priorities[order[a]] > priorities[order[b]]
	})
	g.evalOrder = order

	return g, nil
}

// Len reports the number of conditions in the group (valid or not).
func (g *ConditionGroup) Len() int { return len(g.conditions) }

// ValidLen reports the number of conditions whose options validated;
// only these take part in evaluation.
func (g *ConditionGroup) ValidLen() int { return len(g.evalOrder) }

// Condition returns the i'th condition in original descriptor order.
func (g *ConditionGroup) Condition(i int) *Condition { return g.conditions[i] }

// Evaluate runs the group against one Content: without a
// logic expression, conditions are checked in priority order with strict
// short-circuit AND; with a logic expression, each result is folded in and
// the expression is re-evaluated (unknown indices treated as false) after
// every step, returning as soon as it becomes definitely true.
func (g *ConditionGroup) Evaluate(ctx context.Context, content *domain.Content) (CheckResult, error) {
	// A group with nothing to evaluate never matches; falling through the
	// strict-AND loop below would otherwise declare a vacuous true.
	if len(g.evalOrder) == 0 {
		return CheckResult{Result: false}, nil
	}

	evaluated := make(map[int]bool, len(g.conditions))

	if g.logic == nil {
		for _, idx := range g.evalOrder {
			c := g.conditions[idx]
			ok, err := c.Evaluate(ctx, content)
			if err != nil {
				return CheckResult{}, err
			}
			evaluated[idx] = ok
			if !ok {
				i := idx
				return CheckResult{
					Result:    false,
					Step:      &StepStatus{Index: &i},
					Evaluated: evaluated,
				}, nil
			}
		}
		return CheckResult{Result: true, Step: &StepStatus{}, Evaluated: evaluated}, nil
	}

	for _, idx := range g.evalOrder {
		c := g.conditions[idx]
		ok, err := c.Evaluate(ctx, content)
		if err != nil {
			return CheckResult{}, err
		}
		evaluated[idx] = ok

		if g.logic.eval(evaluated) {
			successes, failures := partition(evaluated)
			return CheckResult{
				Result:    true,
				Step:      &StepStatus{Successes: successes, Failures: failures},
				Evaluated: evaluated,
			}, nil
		}
	}

	successes, failures := partition(evaluated)
	return CheckResult{
		Result:    false,
		Step:      &StepStatus{Successes: successes, Failures: failures},
		Evaluated: evaluated,
	}, nil
}

func partition(evaluated map[int]bool) (successes, failures []int) {
	for idx, ok := range evaluated {
		if ok {
			successes = append(successes, idx)
		} else {
			failures = append(failures, idx)
		}
	}
	sort.Ints(successes)
	sort.Ints(failures)
	return successes, failures
}
