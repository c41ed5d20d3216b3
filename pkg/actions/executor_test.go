package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/deskflowhq/deskflow/pkg/mocks"
	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestRun_AssignMutatesContext(t *testing.T) {
	ctx := context.Background()

	tickets := &mocks.MockTicketStore{}
	tickets.On("Assign", ctx, "T-100", "agent-7").Return(nil)

	executor := NewExecutor(protocol.Collaborators{Tickets: tickets}, testLogger())

	execCtx := map[string]any{"ticketId": "T-100"}
	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionAssign,
		Name:          "assign to agent",
		Configuration: map[string]any{"assignee": "agent-7"},
	}

	step := executor.Run(ctx, action, execCtx)

	assert.Equal(t, models.StepCompleted, step.Status)
	assert.Equal(t, 0, step.RetryCount)
	assert.Equal(t, "agent-7", execCtx["assignedTo"])
	tickets.AssertExpectations(t)
}

func TestRun_RetryThenSucceed(t *testing.T) {
	ctx := context.Background()

	tickets := &mocks.MockTicketStore{}
	tickets.On("Assign", ctx, "T-100", "agent-7").Return(errors.New("store unavailable")).Twice()
	tickets.On("Assign", ctx, "T-100", "agent-7").Return(nil).Once()

	executor := NewExecutor(protocol.Collaborators{Tickets: tickets}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionAssign,
		Name:          "assign with retries",
		Configuration: map[string]any{"assignee": "agent-7"},
		RetryCount:    3,
	}

	step := executor.Run(ctx, action, map[string]any{"ticketId": "T-100"})

	// Two failed attempts then success: one step, two retries used.
	assert.Equal(t, models.StepCompleted, step.Status)
	assert.Equal(t, 2, step.RetryCount)
	assert.Empty(t, step.Error)
	tickets.AssertExpectations(t)
}

func TestRun_RetriesExhausted(t *testing.T) {
	ctx := context.Background()

	tickets := &mocks.MockTicketStore{}
	tickets.On("Assign", ctx, "T-100", "agent-7").Return(errors.New("store unavailable")).Times(3)

	executor := NewExecutor(protocol.Collaborators{Tickets: tickets}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionAssign,
		Name:          "assign with retries",
		Configuration: map[string]any{"assignee": "agent-7"},
		RetryCount:    2,
	}

	step := executor.Run(ctx, action, map[string]any{"ticketId": "T-100"})

	assert.Equal(t, models.StepFailed, step.Status)
	assert.Equal(t, 2, step.RetryCount)
	assert.Contains(t, step.Error, "store unavailable")
	tickets.AssertExpectations(t)
}

func TestRun_DelayRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	executor := NewExecutor(protocol.Collaborators{}, testLogger())

	action := models.Action{
		ID:           "a1",
		Kind:         models.ActionComment,
		Name:         "delayed comment",
		DelaySeconds: 30,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	step := executor.Run(ctx, action, map[string]any{})

	assert.Equal(t, models.StepCancelled, step.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_DelayActionWaits(t *testing.T) {
	executor := NewExecutor(protocol.Collaborators{}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionDelay,
		Name:          "short wait",
		Configuration: map[string]any{"seconds": 0.05},
	}

	start := time.Now()
	step := executor.Run(context.Background(), action, map[string]any{})

	assert.Equal(t, models.StepCompleted, step.Status)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRun_UpdateWritesContextForLaterActions(t *testing.T) {
	ctx := context.Background()

	tickets := &mocks.MockTicketStore{}
	tickets.On("UpdateField", ctx, "T-100", "status", "in_progress").Return(nil)

	executor := NewExecutor(protocol.Collaborators{Tickets: tickets}, testLogger())

	execCtx := map[string]any{"ticketId": "T-100"}
	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionUpdate,
		Name:          "mark in progress",
		Configuration: map[string]any{"field": "status", "value": "in_progress"},
	}

	step := executor.Run(ctx, action, execCtx)

	assert.Equal(t, models.StepCompleted, step.Status)
	assert.Equal(t, "in_progress", execCtx["status"])
}

func TestRun_NotifyFallsBackToAssignee(t *testing.T) {
	ctx := context.Background()

	notifier := &mocks.MockNotificationSink{}
	notifier.On("Send", ctx, []string{"email"}, []string{"agent-7"}, "ticket-assigned", mock.Anything).Return(nil)

	executor := NewExecutor(protocol.Collaborators{Notifier: notifier}, testLogger())

	execCtx := map[string]any{"ticketId": "T-100", "assignedTo": "agent-7"}
	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionNotify,
		Name:          "notify assignee",
		Configuration: map[string]any{"template": "ticket-assigned"},
	}

	step := executor.Run(ctx, action, execCtx)

	assert.Equal(t, models.StepCompleted, step.Status)
	notifier.AssertExpectations(t)
}

func TestRun_EscalateBumpsPriorityAndComments(t *testing.T) {
	ctx := context.Background()

	tickets := &mocks.MockTicketStore{}
	tickets.On("UpdateField", ctx, "T-100", "priority", "urgent").Return(nil)
	tickets.On("AddComment", ctx, "T-100", mock.Anything, true).Return(nil)

	executor := NewExecutor(protocol.Collaborators{Tickets: tickets}, testLogger())

	execCtx := map[string]any{"ticketId": "T-100"}
	action := models.Action{
		ID:   "a1",
		Kind: models.ActionEscalate,
		Name: "escalate",
	}

	step := executor.Run(ctx, action, execCtx)

	assert.Equal(t, models.StepCompleted, step.Status)
	assert.Equal(t, true, execCtx["escalated"])
	assert.Equal(t, "urgent", execCtx["priority"])
	tickets.AssertExpectations(t)
}

func TestRun_ScriptPassesContext(t *testing.T) {
	ctx := context.Background()

	scripts := &mocks.MockScriptRunner{}
	scripts.On("Run", ctx, "enrich", mock.MatchedBy(func(params map[string]any) bool {
		_, hasContext := params["context"]

		return hasContext
	})).Return(map[string]any{"enriched": true}, nil)

	executor := NewExecutor(protocol.Collaborators{Scripts: scripts}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionScript,
		Name:          "run enrichment",
		Configuration: map[string]any{"script": "enrich"},
	}

	step := executor.Run(ctx, action, map[string]any{"ticketId": "T-100"})

	assert.Equal(t, models.StepCompleted, step.Status)
	scripts.AssertExpectations(t)
}

func TestRun_APICall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	executor := NewExecutor(protocol.Collaborators{}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionAPICall,
		Name:          "webhook out",
		Configuration: map[string]any{"url": server.URL, "method": http.MethodGet},
	}

	step := executor.Run(context.Background(), action, map[string]any{})

	require.Equal(t, models.StepCompleted, step.Status)

	result, ok := step.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, result["status_code"])
}

func TestRun_APICallServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	executor := NewExecutor(protocol.Collaborators{}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionAPICall,
		Name:          "webhook out",
		Configuration: map[string]any{"url": server.URL},
	}

	step := executor.Run(context.Background(), action, map[string]any{})

	assert.Equal(t, models.StepFailed, step.Status)
	assert.Contains(t, step.Error, "502")
}

func TestRun_PanicIsCapturedAsFailure(t *testing.T) {
	ctx := context.Background()

	tickets := &mocks.MockTicketStore{}
	tickets.On("Assign", ctx, "T-100", "agent-7").Run(func(mock.Arguments) {
		panic("collaborator bug")
	}).Return(nil)

	executor := NewExecutor(protocol.Collaborators{Tickets: tickets}, testLogger())

	action := models.Action{
		ID:            "a1",
		Kind:          models.ActionAssign,
		Name:          "assign",
		Configuration: map[string]any{"assignee": "agent-7"},
	}

	step := executor.Run(ctx, action, map[string]any{"ticketId": "T-100"})

	assert.Equal(t, models.StepFailed, step.Status)
	assert.Contains(t, step.Error, "panicked")
}

func TestRun_MissingConfiguration(t *testing.T) {
	executor := NewExecutor(protocol.Collaborators{Tickets: &mocks.MockTicketStore{}}, testLogger())

	action := models.Action{
		ID:   "a1",
		Kind: models.ActionAssign,
		Name: "assign without assignee",
	}

	step := executor.Run(context.Background(), action, map[string]any{"ticketId": "T-100"})

	assert.Equal(t, models.StepFailed, step.Status)
	assert.Contains(t, step.Error, "assignee")
}
