// Package mocks provides testify mocks for the engine's collaborator
// interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTicketStore is a mock implementation of protocol.TicketStore.
type MockTicketStore struct {
	mock.Mock
}

func (m *MockTicketStore) Assign(ctx context.Context, ticketID, userID string) error {
	args := m.Called(ctx, ticketID, userID)

	return args.Error(0)
}

func (m *MockTicketStore) UpdateField(ctx context.Context, ticketID, field string, value any) error {
	args := m.Called(ctx, ticketID, field, value)

	return args.Error(0)
}

func (m *MockTicketStore) AddComment(ctx context.Context, ticketID, text string, internal bool) error {
	args := m.Called(ctx, ticketID, text, internal)

	return args.Error(0)
}

func (m *MockTicketStore) Create(ctx context.Context, fields map[string]any) (string, error) {
	args := m.Called(ctx, fields)

	return args.String(0), args.Error(1)
}

// MockNotificationSink is a mock implementation of protocol.NotificationSink.
type MockNotificationSink struct {
	mock.Mock
}

func (m *MockNotificationSink) Send(ctx context.Context, channels []string, recipients []string, template string, variables map[string]any) error {
	args := m.Called(ctx, channels, recipients, template, variables)

	return args.Error(0)
}

// MockScriptRunner is a mock implementation of protocol.ScriptRunner.
type MockScriptRunner struct {
	mock.Mock
}

func (m *MockScriptRunner) Run(ctx context.Context, scriptName string, parameters map[string]any) (any, error) {
	args := m.Called(ctx, scriptName, parameters)

	return args.Get(0), args.Error(1)
}
