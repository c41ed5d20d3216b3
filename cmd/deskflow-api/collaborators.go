package main

import (
	"context"
	"log/slog"
)

// The logging collaborators stand in for a real help-desk backend.
// Actions still mutate the execution context, so rule chains behave
// fully; the side effects are recorded in the log instead of a ticket
// system.

type loggingTicketStore struct {
	logger *slog.Logger
}

func newLoggingTicketStore(logger *slog.Logger) *loggingTicketStore {
	return &loggingTicketStore{logger: logger.With("module", "ticket_store")}
}

func (s *loggingTicketStore) Assign(ctx context.Context, ticketID, userID string) error {
	s.logger.InfoContext(ctx, "Ticket assigned", "ticket_id", ticketID, "user_id", userID)

	return nil
}

func (s *loggingTicketStore) UpdateField(ctx context.Context, ticketID, field string, value any) error {
	s.logger.InfoContext(ctx, "Ticket field updated", "ticket_id", ticketID, "field", field, "value", value)

	return nil
}

func (s *loggingTicketStore) AddComment(ctx context.Context, ticketID, text string, internal bool) error {
	s.logger.InfoContext(ctx, "Ticket comment added", "ticket_id", ticketID, "internal", internal)

	return nil
}

func (s *loggingTicketStore) Create(ctx context.Context, fields map[string]any) (string, error) {
	id := "ticket-local"
	s.logger.InfoContext(ctx, "Ticket created", "ticket_id", id, "fields", fields)

	return id, nil
}

type loggingNotificationSink struct {
	logger *slog.Logger
}

func newLoggingNotificationSink(logger *slog.Logger) *loggingNotificationSink {
	return &loggingNotificationSink{logger: logger.With("module", "notification_sink")}
}

func (s *loggingNotificationSink) Send(ctx context.Context, channels, recipients []string, template string, variables map[string]any) error {
	s.logger.InfoContext(ctx, "Notification sent",
		"channels", channels,
		"recipients", recipients,
		"template", template,
	)

	return nil
}

type loggingScriptRunner struct {
	logger *slog.Logger
}

func newLoggingScriptRunner(logger *slog.Logger) *loggingScriptRunner {
	return &loggingScriptRunner{logger: logger.With("module", "script_runner")}
}

func (s *loggingScriptRunner) Run(ctx context.Context, scriptName string, parameters map[string]any) (any, error) {
	s.logger.InfoContext(ctx, "Script executed", "script", scriptName)

	return map[string]any{"script": scriptName, "ok": true}, nil
}
