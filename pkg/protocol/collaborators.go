// Package protocol defines the collaborator interfaces the engine calls
// into. The engine never touches ticket storage or delivery channels
// directly; implementations are injected at construction time.
package protocol

import "context"

// TicketStore applies ticket side effects on behalf of actions.
type TicketStore interface {
	Assign(ctx context.Context, ticketID, userID string) error
	UpdateField(ctx context.Context, ticketID, field string, value any) error
	AddComment(ctx context.Context, ticketID, text string, internal bool) error
	Create(ctx context.Context, fields map[string]any) (string, error)
}

// NotificationSink delivers notifications produced by notify and escalate
// actions.
type NotificationSink interface {
	Send(ctx context.Context, channels []string, recipients []string, template string, variables map[string]any) error
}

// ScriptRunner executes named scripts for script actions and script
// conditions.
type ScriptRunner interface {
	Run(ctx context.Context, scriptName string, parameters map[string]any) (any, error)
}

// Collaborators bundles the external dependencies of the action executor.
type Collaborators struct {
	Tickets  TicketStore
	Notifier NotificationSink
	Scripts  ScriptRunner
}
