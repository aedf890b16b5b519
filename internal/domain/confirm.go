package domain

import "time"

// ConfirmData is the snapshot enqueued into a user's Confirmation Store
// when a rule requires manual confirmation. Data is an
// opaque bag of intermediate facts computed at enqueue time (e.g.
// "is_thread_author") so that executing the confirmation later requires
// no re-derivation against the live upstream.
type ConfirmData struct {
	Content Content        `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
	// OperationsToken and OperationsList mirror RuleConfig's shorthand-or-
	// list operations field; exactly one is populated.
	OperationsToken OperationToken        `json:"operations_token,omitempty"`
	OperationsList  []OperationDescriptor `json:"operations_list,omitempty"`
	ProcessTime     time.Time             `json:"process_time"`
	RuleName        string                `json:"rule_name"`
}

// ConfirmAction is the verb accepted by operate_confirm.
type ConfirmAction string

const (
	ConfirmExecute ConfirmAction = "execute"
	ConfirmIgnore  ConfirmAction = "ignore"
)
