package models

// ActionKind is the closed set of action categories. Dispatch over kinds
// is exhaustive in the executor, so adding a kind is a compile-time
// checked change.
type ActionKind string

const (
	ActionAssign   ActionKind = "assign"
	ActionUpdate   ActionKind = "update"
	ActionNotify   ActionKind = "notify"
	ActionEscalate ActionKind = "escalate"
	ActionCreate   ActionKind = "create"
	ActionClose    ActionKind = "close"
	ActionComment  ActionKind = "comment"
	ActionScript   ActionKind = "script"
	ActionAPICall  ActionKind = "api_call"
	ActionDelay    ActionKind = "delay"
)

// Action is one side-effecting step of a rule's pipeline.
type Action struct {
	ID            string         `json:"id"`
	Kind          ActionKind     `json:"kind"          validate:"required,oneof=assign update notify escalate create close comment script api_call delay"`
	Name          string         `json:"name"          validate:"required"`
	Configuration map[string]any `json:"configuration"`

	// DelaySeconds suspends only this execution before the action runs.
	DelaySeconds int `json:"delay_seconds,omitempty"      validate:"omitempty,min=0"`

	// ContinueOnError lets the pipeline proceed after this action has
	// exhausted its retries.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	RetryCount        int `json:"retry_count,omitempty"        validate:"omitempty,min=0"`
	RetryDelaySeconds int `json:"retry_delay_seconds,omitempty" validate:"omitempty,min=0"`
}
