package rule

import (
	"context"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
)

// ProcessRecorder persists the per-(pid,user) ProcessLog and ProcessContext
// rows a Processer emits on every Content it evaluates.
type ProcessRecorder interface {
	RecordProcessLog(ctx context.Context, log domain.ProcessLog) error
	RecordProcessContext(ctx context.Context, pc domain.ProcessContext) error
}

// Processer is the per-user rule driver: it holds a user's
// whitelist and blacklist RuleGroups and, given a Content, decides whether
// the user should act on it and with which rule.
type Processer struct {
	Username    string
	Forum       domain.ForumConfig
	FastProcess bool
	RecordAll   bool
	Enabled     bool

	Whitelist *RuleGroup
	Blacklist *RuleGroup

	Recorder ProcessRecorder
}

// NewProcesser builds a Processer for one user's configuration, splitting
// rules into whitelist/blacklist groups by their Whitelist flag.
func NewProcesser(conditionRegistry *ConditionRegistry, operationRegistry *OperationRegistry, cfg domain.UserConfig, recorder ProcessRecorder) *Processer {
	var whitelistCfgs, blacklistCfgs []domain.RuleConfig
	for _, r := range cfg.Rules {
		if r.Whitelist {
			whitelistCfgs = append(whitelistCfgs, r)
		} else {
			blacklistCfgs = append(blacklistCfgs, r)
		}
	}
	return &Processer{
		Username:    cfg.Username,
		Forum:       cfg.Forum,
		FastProcess: cfg.Process.FastProcess,
		RecordAll:   cfg.Process.RecordAllContext,
		Enabled:     cfg.Enable,
		Whitelist:   BuildRuleGroup(conditionRegistry, operationRegistry, whitelistCfgs),
		Blacklist:   BuildRuleGroup(conditionRegistry, operationRegistry, blacklistCfgs),
		Recorder:    recorder,
	}
}

// layerWanted reports whether this user's forum config wants the given
// content layer at all.
func (p *Processer) layerWanted(t domain.ContentType) bool {
	switch t {
	case domain.ContentThread:
		return p.Forum.Thread
	case domain.ContentPost:
		return p.Forum.Post
	case domain.ContentComment:
		return p.Forum.Comment
	default:
		return false
	}
}

// Process runs a Content through the user's whitelist then blacklist rule
// groups and returns the matched rule, if any. Nil, nil
// means "no match, not because of an error" (whitelisted, or no blacklist
// rule matched).
func (p *Processer) Process(ctx context.Context, content *domain.Content) (*Rule, error) {
	if !p.Enabled || content.Fname != p.Forum.Fname || !p.layerWanted(content.Type) {
		return nil, nil
	}

	builder := newContextBuilder()

	for _, r := range p.Whitelist.Rules() {
		result, err := r.Check(ctx, content)
		if err != nil {
			return nil, err
		}
		if result.Result || p.RecordAll || r.ForceRecordContext {
			builder.add(r, result)
		}
		if result.Result {
			if err := p.recordOutcome(ctx, content, r.Name, true, builder); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	var matched *Rule
	for _, r := range p.Blacklist.Rules() {
		result, err := r.Check(ctx, content)
		if err != nil {
			return nil, err
		}
		if result.Result || p.RecordAll || r.ForceRecordContext {
			builder.add(r, result)
		}
		if result.Result {
			if matched == nil {
				matched = r
			}
			if p.FastProcess {
				break
			}
		}
	}

	ruleName := ""
	if matched != nil {
		ruleName = matched.Name
	}
	if err := p.recordOutcome(ctx, content, ruleName, false, builder); err != nil {
		return nil, err
	}
	return matched, nil
}

func (p *Processer) recordOutcome(ctx context.Context, content *domain.Content, ruleName string, isWhitelist bool, builder *contextBuilder) error {
	if p.Recorder == nil {
		return nil
	}
	if err := p.Recorder.RecordProcessLog(ctx, domain.ProcessLog{
		Pid:         content.Pid,
		User:        p.Username,
		Tid:         content.Tid,
		CreateTime:  content.CreateTime,
		ProcessTime: time.Now(),
		ResultRule:  ruleName,
		IsWhitelist: isWhitelist,
	}); err != nil {
		return err
	}
	return p.Recorder.RecordProcessContext(ctx, builder.build(content.Pid, p.Username))
}

// contextBuilder accumulates the deduplicated condition-identity list and
// per-rule references into it.
type contextBuilder struct {
	identityIndex map[string]int
	conditions    []domain.RecordedCondition
	rules         []domain.RecordedRule
}

func newContextBuilder() *contextBuilder {
	return &contextBuilder{identityIndex: make(map[string]int)}
}

func (b *contextBuilder) indexFor(identity string, result bool) int {
	if idx, ok := b.identityIndex[identity]; ok {
		return idx
	}
	idx := len(b.conditions)
	b.identityIndex[identity] = idx
	b.conditions = append(b.conditions, domain.RecordedCondition{Identity: identity, Result: result})
	return idx
}

func (b *contextBuilder) add(r *Rule, result CheckResult) {
	rec := domain.RecordedRule{RuleName: r.Name, Result: result.Result}

	for i := 0; i < r.Conditions.Len(); i++ {
		resultVal, evaluated := result.Evaluated[i]
		if !evaluated {
			continue
		}
		c := r.Conditions.Condition(i)
		idx := b.indexFor(c.Identity(), resultVal)
		rec.ConditionIdx = append(rec.ConditionIdx, idx)
	}

	if result.Step != nil {
		rec.FailedStep = result.Step.Index
		rec.SuccessIdx = result.Step.Successes
		rec.FailureIdx = result.Step.Failures
	}

	b.rules = append(b.rules, rec)
}

func (b *contextBuilder) build(pid int64, user string) domain.ProcessContext {
	return domain.ProcessContext{
		Pid:        pid,
		User:       user,
		Rules:      b.rules,
		Conditions: b.conditions,
	}
}
