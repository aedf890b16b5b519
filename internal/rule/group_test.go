package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieba-mod/moderator/internal/domain"
)

func textDesc(text string, priority float64) domain.ConditionDescriptor {
	return domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": text}, Priority: priority}
}

func TestConditionGroup_StrictAndShortCircuit(t *testing.T) {
	registry := NewConditionRegistry()
	// c0 matches "spam" (will fail against our content), c1 matches "hi" (would pass).
	descs := []domain.ConditionDescriptor{
		textDesc("spam", 50),
		textDesc("hi", 50),
	}
	group, err := BuildConditionGroup(registry, descs, nil)
	require.NoError(t, err)

	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.False(t, result.Result)
	require.NotNil(t, result.Step)
	require.NotNil(t, result.Step.Index)
	assert.Equal(t, 0, *result.Step.Index, "short circuit should report the original index of the failing condition")
	// c1 never evaluated because c0 failed first.
	_, evaluated := result.Evaluated[1]
	assert.False(t, evaluated)
}

func TestConditionGroup_PriorityOrdering(t *testing.T) {
	registry := NewConditionRegistry()
	// c0 has low priority and would pass; c1 has high priority and fails.
	// Higher priority is checked first, so the short circuit must land on c1
	// even though it's declared second.
	descs := []domain.ConditionDescriptor{
		textDesc("hi", 10),
		textDesc("spam", 90),
	}
	group, err := BuildConditionGroup(registry, descs, nil)
	require.NoError(t, err)

	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.False(t, result.Result)
	require.NotNil(t, result.Step.Index)
	assert.Equal(t, 1, *result.Step.Index)
	// c0 (lower priority) was never reached.
	_, evaluated := result.Evaluated[0]
	assert.False(t, evaluated)
}

func TestConditionGroup_AllPass(t *testing.T) {
	registry := NewConditionRegistry()
	descs := []domain.ConditionDescriptor{
		textDesc("hi", 50),
		textDesc("there", 50),
	}
	group, err := BuildConditionGroup(registry, descs, nil)
	require.NoError(t, err)

	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.True(t, result.Result)
	assert.Nil(t, result.Step.Index)
	assert.Len(t, result.Evaluated, 2)
}

func TestConditionGroup_InvalidConditionSkipped(t *testing.T) {
	registry := NewConditionRegistry()
	descs := []domain.ConditionDescriptor{
		{Type: "text", Options: map[string]any{"text": ""}}, // invalid: empty text
		textDesc("hi", 50),
	}
	group, err := BuildConditionGroup(registry, descs, nil)
	require.NoError(t, err)

	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.True(t, result.Result)
	_, evaluated := result.Evaluated[0]
	assert.False(t, evaluated, "invalid condition must never be evaluated")
}

func TestConditionGroup_LogicEarlyTrue(t *testing.T) {
	registry := NewConditionRegistry()
	// c0: text contains "never" (false against our content)
	// c1: text contains "hi" (true)
	// c2: text contains "there" (true)
	descs := []domain.ConditionDescriptor{
		textDesc("never", 50),
		textDesc("hi", 50),
		textDesc("there", 50),
	}
	expr := &domain.LogicExpression{Expression: "(0 and 1) or 2"}
	group, err := BuildConditionGroup(registry, descs, expr)
	require.NoError(t, err)

	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.True(t, result.Result)
	require.NotNil(t, result.Step)
	assert.Contains(t, result.Step.Successes, 2)
}

func TestConditionGroup_LogicFalseWhenNoTermSatisfied(t *testing.T) {
	registry := NewConditionRegistry()
	descs := []domain.ConditionDescriptor{
		textDesc("never", 50),
		textDesc("nope", 50),
	}
	expr := &domain.LogicExpression{Expression: "0 and 1"}
	group, err := BuildConditionGroup(registry, descs, expr)
	require.NoError(t, err)

	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.False(t, result.Result)
	assert.Contains(t, result.Step.Failures, 0)
}

func TestConditionGroup_NecessityBump(t *testing.T) {
	registry := NewConditionRegistry()
	// c0 is necessary for "0 and 1" (both necessary), c2 stands alone in an OR.
	descs := []domain.ConditionDescriptor{
		textDesc("a", 50),
		textDesc("b", 50),
		textDesc("c", 50),
	}
	expr := &domain.LogicExpression{Expression: "(0 and 1) or 2"}
	group, err := BuildConditionGroup(registry, descs, expr)
	require.NoError(t, err)
	// necessary set for this OR is the intersection of {0,1} and {2} = {}.
	// So no bump should apply; eval order stays stable (original order since
	// priorities are equal).
	assert.Equal(t, []int{0, 1, 2}, group.evalOrder)
}

func TestConditionGroup_NecessityBumpWithinAnd(t *testing.T) {
	registry := NewConditionRegistry()
	descs := []domain.ConditionDescriptor{
		textDesc("a", 50),
		textDesc("b", 50),
	}
	// Both leaves are necessary for a bare AND; tie-break keeps original
	// order since both get the same +0.5 bump.
	expr := &domain.LogicExpression{Expression: "0 and 1"}
	group, err := BuildConditionGroup(registry, descs, expr)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, group.evalOrder)
}

func TestConditionGroup_AllInvalidNeverMatches(t *testing.T) {
	registry := NewConditionRegistry()
	descs := []domain.ConditionDescriptor{
		{Type: "text", Options: map[string]any{"text": ""}},  // invalid: empty text
		{Type: "limiter", Options: map[string]any{}},          // invalid: no bounds
	}
	group, err := BuildConditionGroup(registry, descs, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, group.Len())
	assert.Zero(t, group.ValidLen())

	// Nothing to evaluate must mean "no match", not a vacuous strict-AND
	// true that would fire on every piece of content.
	result, err := group.Evaluate(context.Background(), content("hi there", 2, "u"))
	require.NoError(t, err)
	assert.False(t, result.Result)
	assert.Nil(t, result.Step)
	assert.Empty(t, result.Evaluated)
}
