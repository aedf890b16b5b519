package domain

import "errors"

var (
	// ErrInvalidContent is returned by Content.Validate for a structurally
	// inconsistent Content (bad pid/tid/floor relationship).
	ErrInvalidContent = errors.New("domain: invalid content")

	// ErrCacheUnavailable is returned by the classifier when the
	// underlying storage round trip cannot be completed; the spider
	// treats this as a transient crawl error.
	ErrCacheUnavailable = errors.New("domain: content cache unavailable")

	// ErrConfirmNotFound is returned by the confirmation store when a
	// pid has no pending entry, or the entry has expired.
	ErrConfirmNotFound = errors.New("domain: confirmation entry not found")

	// ErrInvalidClient is returned by the moderator API client when an
	// operation is attempted on a client whose lifecycle state is not
	// SUCCESS.
	ErrInvalidClient = errors.New("domain: moderator client not authenticated")

	// ErrMissingAuth marks an operation attempt that was skipped because
	// the client was unauthenticated; it is logged, not propagated
	ErrMissingAuth = errors.New("domain: missing moderator authentication")

	// ErrRuleInvalid marks a rule excluded from its rule group because
	// one of its conditions failed option validation at load time.
	ErrRuleInvalid = errors.New("domain: rule has invalid options")

	// ErrUnknownAction is returned by operate_confirm for an action
	// other than "execute" or "ignore".
	ErrUnknownAction = errors.New("domain: unknown confirmation action")
)
