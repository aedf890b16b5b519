package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieba-mod/moderator/internal/domain"
)

func content(textVal string, floor int, userName string) *domain.Content {
	return &domain.Content{
		Type:       domain.ContentPost,
		Fname:      "f1",
		Tid:        100,
		Pid:        101,
		Title:      "hi",
		Text:       textVal,
		Floor:      floor,
		CreateTime: 1700000000,
		User:       domain.User{UserID: 1, UserName: userName, Level: 3},
	}
}

func TestTextCondition_SubstringMatch(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": "spam"}})
	require.NoError(t, err)
	require.True(t, c.Valid())

	ok, err := c.Evaluate(context.Background(), content("this is spam link", 2, "u"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Evaluate(context.Background(), content("clean text", 2, "u"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTextCondition_EmptyTextIsInvalid(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": ""}})
	require.NoError(t, err)
	assert.False(t, c.Valid())
}

func TestTextCondition_Regex(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": "^spam.*link$", "is_regex": true}})
	require.NoError(t, err)

	ok, err := c.Evaluate(context.Background(), content("spam link", 2, "u"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Evaluate(context.Background(), content("a spam link b", 2, "u"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTextCondition_IgnoreCase(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "text", Key: "user.user_name", Options: map[string]any{"text": "GOOD", "ignore_case": true}})
	require.NoError(t, err)

	ok, err := c.Evaluate(context.Background(), content("x", 2, "good"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterCondition_EqSetsBothBounds(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "limiter", Key: "floor", Options: map[string]any{"eq": 5.0}})
	require.NoError(t, err)
	require.True(t, c.Valid())

	ok, _ := c.Evaluate(context.Background(), content("x", 5, "u"))
	assert.True(t, ok)
	ok, _ = c.Evaluate(context.Background(), content("x", 6, "u"))
	assert.False(t, ok)
}

func TestLimiterCondition_InvalidWithoutBounds(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "limiter", Options: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, c.Valid())
}

func TestLimiterCondition_MinMaxRange(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "limiter", Key: "user.level", Options: map[string]any{"min": 2.0, "max": 4.0}})
	require.NoError(t, err)

	ok, _ := c.Evaluate(context.Background(), content("x", 2, "u"))
	assert.True(t, ok)

	low := content("x", 2, "u")
	low.User.Level = 1
	ok, _ = c.Evaluate(context.Background(), low)
	assert.False(t, ok)

	high := content("x", 2, "u")
	high.User.Level = 5
	ok, _ = c.Evaluate(context.Background(), high)
	assert.False(t, ok)
}

func TestTimeCondition_Window(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "time", Options: map[string]any{
		"start": "2023-11-14 00:00:00",
		"end":   "2023-11-15 00:00:00",
	}})
	require.NoError(t, err)
	require.True(t, c.Valid())

	inside := content("x", 2, "u")
	inside.CreateTime = 1700000000
	ok, err := c.Evaluate(context.Background(), inside)
	require.NoError(t, err)
	assert.True(t, ok)

	outside := content("x", 2, "u")
	outside.CreateTime = 1600000000
	ok, err = c.Evaluate(context.Background(), outside)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeCondition_InvalidWithoutBounds(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "time", Options: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, c.Valid())
}

func TestCheckboxCondition_Membership(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "checkbox", Options: map[string]any{
		"values": []any{"thread", "post"},
	}})
	require.NoError(t, err)
	require.True(t, c.Valid())

	ok, _ := c.Evaluate(context.Background(), content("x", 2, "u"))
	assert.True(t, ok) // default content() is ContentPost

	comment := content("x", 2, "u")
	comment.Type = domain.ContentComment
	ok, _ = c.Evaluate(context.Background(), comment)
	assert.False(t, ok)
}

func TestCheckboxCondition_EmptyIsInvalid(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "checkbox", Options: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, c.Valid())
}

func TestSelectCondition_Equality(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "select", Options: map[string]any{"value": "post"}})
	require.NoError(t, err)
	require.True(t, c.Valid())

	ok, _ := c.Evaluate(context.Background(), content("x", 2, "u"))
	assert.True(t, ok)

	comment := content("x", 2, "u")
	comment.Type = domain.ContentComment
	ok, _ = c.Evaluate(context.Background(), comment)
	assert.False(t, ok)
}

func TestSelectCondition_InvalidWithoutValue(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "select", Options: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, c.Valid())
}

func TestCondition_Identity(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "text", Key: "user.user_name", Options: map[string]any{"text": "x"}})
	require.NoError(t, err)
	assert.Equal(t, "text:user.user_name", c.Identity())

	c2, err := r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": "x"}})
	require.NoError(t, err)
	assert.Equal(t, "text", c2.Identity())
}

func TestBuild_UnregisteredTypeErrors(t *testing.T) {
	r := NewConditionRegistry()
	_, err := r.Build(domain.ConditionDescriptor{Type: "nonexistent"})
	assert.Error(t, err)
}

func TestBuild_UnknownAttributeErrors(t *testing.T) {
	r := NewConditionRegistry()
	_, err := r.Build(domain.ConditionDescriptor{Type: "text", Key: "not.an.attribute", Options: map[string]any{"text": "x"}})
	assert.Error(t, err)
}

func TestBuild_DefaultPriority(t *testing.T) {
	r := NewConditionRegistry()
	c, err := r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": "x"}})
	require.NoError(t, err)
	assert.Equal(t, 50.0, c.Priority)
}

func TestRegister_FailsFastOnBadSchema(t *testing.T) {
	r := NewConditionRegistry()
	okFactory := func(desc domain.ConditionDescriptor) (*Condition, error) {
		c := &Condition{valid: true}
		c.eval = func(context.Context, *domain.Content) (bool, error) { return true, nil }
		return c, nil
	}

	assert.Error(t, r.Register("", []OptionDesc{{Key: "k", Kind: "string"}}, okFactory))
	assert.Error(t, r.Register("x", []OptionDesc{{Key: "k", Kind: "string"}}, nil))
	assert.Error(t, r.Register("text", []OptionDesc{{Key: "k", Kind: "string"}}, okFactory), "duplicate tag")
	assert.Error(t, r.Register("x", nil, okFactory), "a condition kind with no options can never be valid")
	assert.Error(t, r.Register("x", []OptionDesc{{Key: "", Kind: "string"}}, okFactory))
	assert.Error(t, r.Register("x", []OptionDesc{
		{Key: "k", Kind: "string"},
		{Key: "k", Kind: "bool"},
	}, okFactory), "duplicate option key")
	assert.Error(t, r.Register("x", []OptionDesc{{Key: "k", Kind: "widget"}}, okFactory), "unknown option kind")

	require.NoError(t, r.Register("custom_ip", []OptionDesc{{Key: "cidr", Label: "cidr", Kind: "string"}}, okFactory))
	c, err := r.Build(domain.ConditionDescriptor{Type: "custom_ip", Options: map[string]any{"cidr": "10.0.0.0/8"}})
	require.NoError(t, err)
	assert.True(t, c.Valid())
}

func TestBuild_RejectsOptionsOutsideDeclaredSchema(t *testing.T) {
	r := NewConditionRegistry()

	_, err := r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": "x", "regex": true}})
	require.Error(t, err, "an undeclared option key is a load error, not a silent drop")
	assert.Contains(t, err.Error(), "regex")

	_, err = r.Build(domain.ConditionDescriptor{Type: "text", Options: map[string]any{"text": 7}})
	require.Error(t, err, "a wrong-typed option value is a load error")

	_, err = r.Build(domain.ConditionDescriptor{Type: "limiter", Options: map[string]any{"min": "low"}})
	require.Error(t, err)

	_, err = r.Build(domain.ConditionDescriptor{Type: "checkbox", Options: map[string]any{"values": []any{"post", 3}}})
	require.Error(t, err, "a mixed-type values list is a load error")
}
