package rule

import (
	"context"
	"fmt"

	"github.com/tieba-mod/moderator/internal/domain"
)

// AuthorResolver answers "is this user the OP of the content's thread",
// the one external lookup an operation's store_data hook may need before a
// confirmation is durably enqueued.
// Implemented by the Tieba Info helper (internal/tieba).
type AuthorResolver interface {
	IsThreadAuthor(ctx context.Context, content *domain.Content) (bool, error)
}

// StoreDataFunc pre-computes facts into a ConfirmData's opaque data map at
// enqueue time, so that executing the confirmation later requires no
// re-derivation against the live upstream.
type StoreDataFunc func(ctx context.Context, resolver AuthorResolver, content *domain.Content, data map[string]any) error

// Operation is one built operation in a rule's operation group. Execution itself (calling the moderator client) happens in
// the dispatcher, which switches on Type; Operation only carries the
// validated, declarative shape plus the optional pre-fetch hook.
type Operation struct {
	Type      string
	Options   map[string]any
	Direct    bool
	NeedBawu  bool
	StoreData StoreDataFunc
}

// OperationFactory validates options for a registered operation type and
// returns the built Operation.
type OperationFactory func(options map[string]any, direct bool) (*Operation, error)

// OperationRegistry is the tag-indexed registry of operation kinds: delete, block, author_delete, or a custom plugin-supplied tag.
type OperationRegistry struct {
	factories map[string]OperationFactory
	descs     map[string][]OptionDesc
}

// NewOperationRegistry builds a registry pre-populated with the three
// built-in operation kinds.
func NewOperationRegistry() *OperationRegistry {
	r := &OperationRegistry{
		factories: make(map[string]OperationFactory),
		descs:     make(map[string][]OptionDesc),
	}
	r.MustRegister("delete", []OptionDesc{
		{Key: "delete_thread_if_author", Label: "delete_thread_if_author", Default: false, Kind: "bool"},
	}, newDeleteOperation)
	r.MustRegister("block", []OptionDesc{
		{Key: "day", Label: "day", Default: 0, Kind: "number"},
		{Key: "reason", Label: "reason", Default: "", Kind: "string"},
	}, newBlockOperation)
	r.MustRegister("author_delete", []OptionDesc{
		{Key: "delete_thread_if_author", Label: "delete_thread_if_author", Default: true, Kind: "bool"},
	}, newAuthorDeleteOperation)
	return r
}

// Register adds an operation kind. descs declare the option schema the
// factory consumes (possibly empty — an operation can meaningfully take
// no options); registration fails fast on a malformed schema, and Build
// rejects descriptors whose options fall outside it.
func (r *OperationRegistry) Register(tag string, descs []OptionDesc, factory OperationFactory) error {
	if tag == "" {
		return fmt.Errorf("rule: operation tag must be non-empty")
	}
	if factory == nil {
		return fmt.Errorf("rule: operation tag %q registered without a factory", tag)
	}
	if _, exists := r.factories[tag]; exists {
		return fmt.Errorf("rule: operation tag %q already registered", tag)
	}
	if err := checkOptionDescs(tag, descs); err != nil {
		return err
	}
	r.factories[tag] = factory
	r.descs[tag] = descs
	return nil
}

func (r *OperationRegistry) MustRegister(tag string, descs []OptionDesc, factory OperationFactory) {
	if err := r.Register(tag, descs, factory); err != nil {
		panic(err)
	}
}

func (r *OperationRegistry) OptionDescs(tag string) []OptionDesc { return r.descs[tag] }

// Build constructs an Operation from a descriptor, looking up the factory
// registered for its Type.
func (r *OperationRegistry) Build(desc domain.OperationDescriptor) (*Operation, error) {
	factory, ok := r.factories[desc.Type]
	if !ok {
		return nil, fmt.Errorf("rule: unregistered operation type %q", desc.Type)
	}
	if err := validateOptions(desc.Type, desc.Options, r.descs[desc.Type]); err != nil {
		return nil, err
	}
	return factory(desc.Options, desc.Direct)
}

func newDeleteOperation(options map[string]any, direct bool) (*Operation, error) {
	op := &Operation{Type: "delete", Options: options, Direct: direct, NeedBawu: true}
	if optBool(options, "delete_thread_if_author") {
		op.StoreData = func(ctx context.Context, resolver AuthorResolver, content *domain.Content, data map[string]any) error {
			if content.IsThread() || resolver == nil {
				return nil
			}
			isAuthor, err := resolver.IsThreadAuthor(ctx, content)
			if err != nil {
				return err
			}
			data["is_thread_author"] = isAuthor
			return nil
		}
	}
	return op, nil
}

func newBlockOperation(options map[string]any, direct bool) (*Operation, error) {
	return &Operation{Type: "block", Options: options, Direct: direct, NeedBawu: true}, nil
}

// newAuthorDeleteOperation is the legacy convenience form of delete
// with delete_thread_if_author forced true.
func newAuthorDeleteOperation(options map[string]any, direct bool) (*Operation, error) {
	merged := map[string]any{"delete_thread_if_author": true}
	for k, v := range options {
		merged[k] = v
	}
	op, err := newDeleteOperation(merged, direct)
	if err != nil {
		return nil, err
	}
	op.Type = "author_delete"
	return op, nil
}

// OperationGroup is the ordered operation list for one Rule, or the
// shorthand token form.
type OperationGroup struct {
	Token      domain.OperationToken
	Operations []*Operation
}

// BuildOperationGroup builds an OperationGroup from a RuleConfig's
// operations field: exactly one of token or list is populated.
func BuildOperationGroup(registry *OperationRegistry, token domain.OperationToken, list []domain.OperationDescriptor) (*OperationGroup, error) {
	if token != "" {
		return &OperationGroup{Token: token}, nil
	}
	ops := make([]*Operation, 0, len(list))
	for _, desc := range list {
		op, err := registry.Build(desc)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return &OperationGroup{Operations: ops}, nil
}

// IsToken reports whether this group uses the shorthand token form.
func (g *OperationGroup) IsToken() bool { return g.Token != "" }

// DirectOperations returns the subset of operations flagged direct=true,
// or nil if the group is a shorthand token (tokens have no direct
// sub-operations) or has none.
func (g *OperationGroup) DirectOperations() *OperationGroup {
	if g.IsToken() {
		return nil
	}
	var direct []*Operation
	for _, op := range g.Operations {
		if op.Direct {
			direct = append(direct, op)
		}
	}
	if len(direct) == 0 {
		return nil
	}
	return &OperationGroup{Operations: direct}
}

// NoDirectOperations returns the remaining (non-direct) operations. For a
// shorthand token, the whole token is the "non-direct" group, matching the
// source's behavior of running the full token set only when not under
// mandatory confirm.
func (g *OperationGroup) NoDirectOperations() *OperationGroup {
	if g.IsToken() {
		return &OperationGroup{Token: g.Token}
	}
	var rest []*Operation
	for _, op := range g.Operations {
		if !op.Direct {
			rest = append(rest, op)
		}
	}
	if len(rest) == 0 {
		return nil
	}
	return &OperationGroup{Operations: rest}
}

// DeserializeOperationGroup reconstructs an OperationGroup from a
// ConfirmData's stored token/list.
func DeserializeOperationGroup(registry *OperationRegistry, token domain.OperationToken, list []domain.OperationDescriptor) (*OperationGroup, error) {
	return BuildOperationGroup(registry, token, list)
}

// Serialize converts the group's list form back to descriptors for
// durable storage inside a ConfirmData. Token groups
// serialize to nil; callers check IsToken first.
func (g *OperationGroup) Serialize() []domain.OperationDescriptor {
	if g.IsToken() {
		return nil
	}
	out := make([]domain.OperationDescriptor, 0, len(g.Operations))
	for _, op := range g.Operations {
		out = append(out, domain.OperationDescriptor{Type: op.Type, Options: op.Options, Direct: op.Direct})
	}
	return out
}
