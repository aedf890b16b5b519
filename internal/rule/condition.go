// Package rule implements the Rule Registry & Templates and the Rule
// & Rule-Group Evaluator: a tag-indexed registry of condition and
// operation kinds, the priority/short-circuit and boolean-DSL evaluation
// modes, and the per-user Processer that runs a Content through a user's
// whitelist and blacklist rule groups.
//
// A Content is evaluated against an ordered, priority-sorted (or
// DSL-governed) set of registered Condition kinds bound to content
// attribute paths.
package rule

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
)

// Condition is a single evaluatable predicate built from a
// ConditionDescriptor. Valid reports whether the condition's options
// passed load-time validation; an invalid condition is
// never evaluated and excludes its owning rule from consideration.
type Condition struct {
	Type            string
	Key             string
	Priority        float64
	valid           bool
	showUnprocessed bool
	eval            func(ctx context.Context, c *domain.Content) (bool, error)
}

// Identity is the "type:key" string used for context deduplication.
func (c *Condition) Identity() string {
	if c.Key == "" {
		return c.Type
	}
	return c.Type + ":" + c.Key
}

func (c *Condition) Valid() bool { return c.valid }

// ShowUnprocessed reports whether this condition carries
// _show_unprocessed: true, meaning context recording may elide the
// (possibly expensive) value fetch when the rule short-circuited before
// reaching this condition.
func (c *Condition) ShowUnprocessed() bool { return c.showUnprocessed }

// Evaluate computes the condition's truth against one Content.
func (c *Condition) Evaluate(ctx context.Context, content *domain.Content) (bool, error) {
	if !c.valid {
		return false, fmt.Errorf("rule: condition %s is invalid", c.Identity())
	}
	return c.eval(ctx, content)
}

// ConditionFactory builds a Condition from a descriptor's options. It
// returns valid=false (not an error) when the options are structurally
// fine but semantically empty (e.g. text=="").
type ConditionFactory func(desc domain.ConditionDescriptor) (*Condition, error)

// ConditionRegistry is a tag-indexed registry of condition kinds.
type ConditionRegistry struct {
	factories map[string]ConditionFactory
	descs     map[string][]OptionDesc
}

// OptionDesc documents one option field for UI rendering.
type OptionDesc struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Default any    `json:"default"`
	Kind    string `json:"kind"`
}

// NewConditionRegistry builds a registry pre-populated with the five
// built-in condition series: text, limiter, time,
// checkbox, select.
func NewConditionRegistry() *ConditionRegistry {
	r := &ConditionRegistry{
		factories: make(map[string]ConditionFactory),
		descs:     make(map[string][]OptionDesc),
	}
	r.MustRegister("text", []OptionDesc{
		{Key: "text", Label: "text", Kind: "string"},
		{Key: "is_regex", Label: "is_regex", Default: false, Kind: "bool"},
		{Key: "ignore_case", Label: "ignore_case", Default: false, Kind: "bool"},
	}, newTextCondition)
	r.MustRegister("limiter", []OptionDesc{
		{Key: "min", Label: "min", Kind: "number"},
		{Key: "max", Label: "max", Kind: "number"},
		{Key: "eq", Label: "eq", Kind: "number"},
	}, newLimiterCondition)
	r.MustRegister("time", []OptionDesc{
		{Key: "start", Label: "start", Kind: "string"},
		{Key: "end", Label: "end", Kind: "string"},
	}, newTimeCondition)
	r.MustRegister("checkbox", []OptionDesc{
		{Key: "values", Label: "values", Kind: "[]string"},
	}, newCheckboxCondition)
	r.MustRegister("select", []OptionDesc{
		{Key: "value", Label: "value", Kind: "string"},
	}, newSelectCondition)
	return r
}

// Register adds a condition kind. descs declare the complete option
// schema the factory consumes — one entry per option field, each with a
// unique non-empty key and a known kind. Registration fails fast on a
// malformed schema, and Build rejects any descriptor whose options fall
// outside it, so a miswired custom kind surfaces at startup or config
// load rather than as a silently never-matching rule.
func (r *ConditionRegistry) Register(tag string, descs []OptionDesc, factory ConditionFactory) error {
	if tag == "" {
		return fmt.Errorf("rule: condition tag must be non-empty")
	}
	if factory == nil {
		return fmt.Errorf("rule: condition tag %q registered without a factory", tag)
	}
	if _, exists := r.factories[tag]; exists {
		return fmt.Errorf("rule: condition tag %q already registered", tag)
	}
	if len(descs) == 0 {
		// Every condition series' validity depends on its options, so a
		// kind with no option fields can never be valid.
		return fmt.Errorf("rule: condition tag %q declares no option fields", tag)
	}
	if err := checkOptionDescs(tag, descs); err != nil {
		return err
	}
	r.factories[tag] = factory
	r.descs[tag] = descs
	return nil
}

// checkOptionDescs verifies a declared option schema: unique non-empty
// keys, each with a kind validateOptions knows how to check.
func checkOptionDescs(tag string, descs []OptionDesc) error {
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if d.Key == "" {
			return fmt.Errorf("rule: tag %q declares an option with an empty key", tag)
		}
		if _, dup := seen[d.Key]; dup {
			return fmt.Errorf("rule: tag %q declares option %q twice", tag, d.Key)
		}
		seen[d.Key] = struct{}{}
		switch d.Kind {
		case "string", "bool", "number", "[]string":
		default:
			return fmt.Errorf("rule: tag %q option %q has unknown kind %q", tag, d.Key, d.Kind)
		}
	}
	return nil
}

// validateOptions checks a descriptor's options against the declared
// schema: every supplied key must be declared, with a value of the
// declared kind.
func validateOptions(tag string, options map[string]any, descs []OptionDesc) error {
	kinds := make(map[string]string, len(descs))
	for _, d := range descs {
		kinds[d.Key] = d.Kind
	}
	for key, value := range options {
		kind, declared := kinds[key]
		if !declared {
			return fmt.Errorf("rule: %q has undeclared option %q", tag, key)
		}
		if !valueMatchesKind(value, kind) {
			return fmt.Errorf("rule: %q option %q is not a %s", tag, key, kind)
		}
	}
	return nil
}

func valueMatchesKind(value any, kind string) bool {
	if value == nil {
		return true
	}
	switch kind {
	case "string":
		_, ok := value.(string)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "[]string":
		switch v := value.(type) {
		case []string:
			return true
		case []any:
			for _, e := range v {
				if _, ok := e.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	}
	return false
}

// MustRegister panics on a registration error; used only for the
// built-in kinds registered at package/registry construction time.
func (r *ConditionRegistry) MustRegister(tag string, descs []OptionDesc, factory ConditionFactory) {
	if err := r.Register(tag, descs, factory); err != nil {
		panic(err)
	}
}

// OptionDescs returns the declared option descriptors for tag, for UI
// rendering.
func (r *ConditionRegistry) OptionDescs(tag string) []OptionDesc {
	return r.descs[tag]
}

// Build constructs a Condition from a descriptor, looking up the factory
// registered for its Type. An unregistered type is a load-time error (the
// owning rule is excluded from evaluation).
func (r *ConditionRegistry) Build(desc domain.ConditionDescriptor) (*Condition, error) {
	factory, ok := r.factories[desc.Type]
	if !ok {
		return nil, fmt.Errorf("rule: unregistered condition type %q", desc.Type)
	}
	if err := validateOptions(desc.Type, desc.Options, r.descs[desc.Type]); err != nil {
		return nil, err
	}
	if desc.Priority == 0 {
		desc.Priority = 50
	}
	c, err := factory(desc)
	if err != nil {
		return nil, err
	}
	c.Type = desc.Type
	c.Key = desc.Key
	c.Priority = desc.Priority
	return c, nil
}

func optBool(opts map[string]any, key string) bool {
	v, ok := opts[key].(bool)
	return ok && v
}

func optString(opts map[string]any, key string) (string, bool) {
	v, ok := opts[key].(string)
	return v, ok
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// newTextCondition implements the "text" series: substring or regex match
// against a string attribute. Invalid if text == "".
func newTextCondition(desc domain.ConditionDescriptor) (*Condition, error) {
	text, _ := optString(desc.Options, "text")
	isRegex := optBool(desc.Options, "is_regex")
	ignoreCase := optBool(desc.Options, "ignore_case")

	get, _, ok := resolveAttribute("text", desc.Key)
	if !ok {
		return nil, fmt.Errorf("rule: text condition bound to unknown attribute %q", desc.Key)
	}

	c := &Condition{valid: text != ""}
	if !c.valid {
		c.eval = func(context.Context, *domain.Content) (bool, error) { return false, nil }
		return c, nil
	}

	pattern := text
	if !isRegex {
		pattern = regexp.QuoteMeta(text)
	}
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := sharedRegexCache.get(pattern)
	if err != nil {
		return nil, fmt.Errorf("rule: text condition compile %q: %w", text, err)
	}

	c.eval = func(_ context.Context, content *domain.Content) (bool, error) {
		value, _ := get(content).(string)
		return re.MatchString(value), nil
	}
	return c, nil
}

// newLimiterCondition implements the "limiter" series: numeric range.
// eq sets both bounds; invalid if neither bound is effective.
func newLimiterCondition(desc domain.ConditionDescriptor) (*Condition, error) {
	min, hasMin := optFloat(desc.Options, "min")
	max, hasMax := optFloat(desc.Options, "max")
	if eq, hasEq := optFloat(desc.Options, "eq"); hasEq {
		min, max, hasMin, hasMax = eq, eq, true, true
	}

	get, _, ok := resolveAttribute("limiter", desc.Key)
	if !ok {
		return nil, fmt.Errorf("rule: limiter condition bound to unknown attribute %q", desc.Key)
	}

	c := &Condition{valid: hasMin || hasMax}
	if !c.valid {
		c.eval = func(context.Context, *domain.Content) (bool, error) { return false, nil }
		return c, nil
	}

	c.eval = func(_ context.Context, content *domain.Content) (bool, error) {
		v := toFloat(get(content))
		if hasMin && v < min {
			return false, nil
		}
		if hasMax && v > max {
			return false, nil
		}
		return true, nil
	}
	return c, nil
}

const timeLayout = "2006-01-02 15:04:05"

// newTimeCondition implements the "time" series: a timestamp window.
// Invalid if neither bound is set.
func newTimeCondition(desc domain.ConditionDescriptor) (*Condition, error) {
	var start, end time.Time
	var hasStart, hasEnd bool

	if s, ok := optString(desc.Options, "start"); ok && s != "" {
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, fmt.Errorf("rule: time condition start %q: %w", s, err)
		}
		start, hasStart = t, true
	}
	if s, ok := optString(desc.Options, "end"); ok && s != "" {
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, fmt.Errorf("rule: time condition end %q: %w", s, err)
		}
		end, hasEnd = t, true
	}

	get, _, ok := resolveAttribute("time", desc.Key)
	if !ok {
		return nil, fmt.Errorf("rule: time condition bound to unknown attribute %q", desc.Key)
	}

	c := &Condition{valid: hasStart || hasEnd}
	if !c.valid {
		c.eval = func(context.Context, *domain.Content) (bool, error) { return false, nil }
		return c, nil
	}

	c.eval = func(_ context.Context, content *domain.Content) (bool, error) {
		ts := time.Unix(int64(toFloat(get(content))), 0)
		if hasStart && ts.Before(start) {
			return false, nil
		}
		if hasEnd && ts.After(end) {
			return false, nil
		}
		return true, nil
	}
	return c, nil
}

// newCheckboxCondition implements the "checkbox" series: membership in a
// finite enumerable set. Invalid if empty.
func newCheckboxCondition(desc domain.ConditionDescriptor) (*Condition, error) {
	raw, _ := desc.Options["values"].([]any)
	values := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values[s] = struct{}{}
		}
	}

	get, _, ok := resolveAttribute("checkbox", desc.Key)
	if !ok {
		return nil, fmt.Errorf("rule: checkbox condition bound to unknown attribute %q", desc.Key)
	}

	c := &Condition{valid: len(values) > 0}
	if !c.valid {
		c.eval = func(context.Context, *domain.Content) (bool, error) { return false, nil }
		return c, nil
	}

	c.eval = func(_ context.Context, content *domain.Content) (bool, error) {
		value := fmt.Sprintf("%v", get(content))
		_, ok := values[value]
		return ok, nil
	}
	return c, nil
}

// newSelectCondition implements the "select" series: equality with a
// single value. Invalid if unset.
func newSelectCondition(desc domain.ConditionDescriptor) (*Condition, error) {
	value, hasValue := optString(desc.Options, "value")

	get, _, ok := resolveAttribute("select", desc.Key)
	if !ok {
		return nil, fmt.Errorf("rule: select condition bound to unknown attribute %q", desc.Key)
	}

	c := &Condition{valid: hasValue}
	if !c.valid {
		c.eval = func(context.Context, *domain.Content) (bool, error) { return false, nil }
		return c, nil
	}

	c.eval = func(_ context.Context, content *domain.Content) (bool, error) {
		return fmt.Sprintf("%v", get(content)) == value, nil
	}
	return c, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
