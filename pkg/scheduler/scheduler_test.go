package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/deskflowhq/deskflow/pkg/actions"
	"github.com/deskflowhq/deskflow/pkg/conditions"
	"github.com/deskflowhq/deskflow/pkg/engine"
	"github.com/deskflowhq/deskflow/pkg/mocks"
	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence/memory"
	"github.com/deskflowhq/deskflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	scheduler   *Scheduler
	engine      *engine.Engine
	persistence *memory.Persistence
	tickets     *mocks.MockTicketStore
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	tickets := &mocks.MockTicketStore{}

	executor := actions.NewExecutor(protocol.Collaborators{Tickets: tickets}, logger)
	evaluator := conditions.NewEvaluator(nil, logger)
	eng := engine.New(store, evaluator, executor, nil, logger, engine.Config{})
	dispatcher := engine.NewDispatcher(eng, store, logger)

	return &schedulerFixture{
		scheduler:   New(dispatcher, store, logger),
		engine:      eng,
		persistence: store,
		tickets:     tickets,
	}
}

func scheduledRule(id, cronExpr string) *models.WorkflowRule {
	return &models.WorkflowRule{
		ID:       id,
		Name:     "scheduled " + id,
		IsActive: true,
		Trigger: models.Trigger{
			Kind: models.TriggerSchedule,
			Schedule: &models.ScheduleSpec{
				CronExpression: cronExpr,
				Enabled:        true,
			},
		},
		Actions: []models.Action{
			{
				ID:            "a1",
				Kind:          models.ActionUpdate,
				Name:          "touch",
				Configuration: map[string]any{"field": "touched", "value": true, "ticket_id": "T-1"},
			},
		},
		Priority: 50,
	}
}

func TestPrimeRecomputesNextExecutionFromNow(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	rule := scheduledRule("nightly", "0 3 * * *")

	// A stale fire time left over from a previous process run.
	stale := time.Date(2020, 1, 1, 3, 0, 0, 0, time.UTC)
	rule.Trigger.Schedule.NextExecution = &stale
	require.NoError(t, fx.persistence.SaveRule(ctx, rule))

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	fx.scheduler.clock = func() time.Time { return now }

	require.NoError(t, fx.scheduler.prime(ctx))

	stored, err := fx.persistence.RuleByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Trigger.Schedule.NextExecution)
	assert.Equal(t, time.Date(2024, 6, 11, 3, 0, 0, 0, time.UTC), stored.Trigger.Schedule.NextExecution.UTC())
}

func TestScanFiresDueRulesAndReschedules(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.tickets.On("UpdateField", mock.Anything, "T-1", "touched", true).Return(nil)
	ctx := context.Background()

	now := time.Date(2024, 6, 10, 9, 0, 30, 0, time.UTC)
	fx.scheduler.clock = func() time.Time { return now }

	rule := scheduledRule("hourly", "0 * * * *")
	due := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	rule.Trigger.Schedule.NextExecution = &due
	require.NoError(t, fx.persistence.SaveRule(ctx, rule))

	fx.scheduler.scan(ctx)

	executions, err := fx.engine.ListExecutions(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "schedule", executions[0].TriggeredBy)
	<-fx.engine.Wait(executions[0].ID)

	stored, err := fx.persistence.RuleByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Trigger.Schedule.NextExecution)
	assert.Equal(t, time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC), stored.Trigger.Schedule.NextExecution.UTC())
}

func TestScanCollapsesMissedTicksIntoOneFiring(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.tickets.On("UpdateField", mock.Anything, "T-1", "touched", true).Return(nil)
	ctx := context.Background()

	// Three hourly ticks have passed since the precomputed fire time.
	now := time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC)
	fx.scheduler.clock = func() time.Time { return now }

	rule := scheduledRule("hourly", "0 * * * *")
	due := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	rule.Trigger.Schedule.NextExecution = &due
	require.NoError(t, fx.persistence.SaveRule(ctx, rule))

	fx.scheduler.scan(ctx)

	executions, err := fx.engine.ListExecutions(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	<-fx.engine.Wait(executions[0].ID)

	stored, err := fx.persistence.RuleByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC), stored.Trigger.Schedule.NextExecution.UTC())
}

func TestScanIgnoresDisabledAndInactiveSchedules(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 10, 9, 0, 1, 0, time.UTC)
	fx.scheduler.clock = func() time.Time { return now }

	due := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	disabled := scheduledRule("disabled", "0 * * * *")
	disabled.Trigger.Schedule.Enabled = false
	disabled.Trigger.Schedule.NextExecution = &due
	require.NoError(t, fx.persistence.SaveRule(ctx, disabled))

	inactive := scheduledRule("inactive", "0 * * * *")
	inactive.IsActive = false
	inactive.Trigger.Schedule.NextExecution = &due
	require.NoError(t, fx.persistence.SaveRule(ctx, inactive))

	eventful := scheduledRule("eventful", "0 * * * *")
	eventful.Trigger = models.Trigger{Kind: models.TriggerEvent, Event: models.EventTicketCreated}
	require.NoError(t, fx.persistence.SaveRule(ctx, eventful))

	fx.scheduler.scan(ctx)

	executions, err := fx.engine.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestStartStop(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.tickets.On("UpdateField", mock.Anything, "T-1", "touched", true).Return(nil)
	ctx := context.Background()

	// Fires every second; sub-minute schedules use the 6-field form.
	rule := scheduledRule("fast", "* * * * * *")
	require.NoError(t, fx.persistence.SaveRule(ctx, rule))

	fx.scheduler.pollInterval = 20 * time.Millisecond

	require.NoError(t, fx.scheduler.Start(ctx))

	deadline := time.After(3 * time.Second)

	for {
		executions, err := fx.engine.ListExecutions(ctx, rule.ID)
		require.NoError(t, err)

		if len(executions) > 0 {
			break
		}

		select {
		case <-deadline:
			t.Fatal("scheduler never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}

	fx.scheduler.Stop()
}

// schedulePersistStore defers schedule writes until beforePersist
// returns, standing in for a slow store while executions finish.
type schedulePersistStore struct {
	*memory.Persistence

	beforePersist func()
}

func (s *schedulePersistStore) UpdateRuleSchedule(ctx context.Context, id string, next time.Time) error {
	if s.beforePersist != nil {
		s.beforePersist()
	}

	return s.Persistence.UpdateRuleSchedule(ctx, id, next)
}

func TestScanPersistDoesNotEraseCounterBumps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &schedulePersistStore{Persistence: memory.NewPersistence()}
	tickets := &mocks.MockTicketStore{}
	tickets.On("UpdateField", mock.Anything, "T-1", "touched", true).Return(nil)

	executor := actions.NewExecutor(protocol.Collaborators{Tickets: tickets}, logger)
	evaluator := conditions.NewEvaluator(nil, logger)
	eng := engine.New(store, evaluator, executor, nil, logger, engine.Config{})
	dispatcher := engine.NewDispatcher(eng, store, logger)
	sched := New(dispatcher, store, logger)

	ctx := context.Background()

	now := time.Date(2024, 6, 10, 9, 0, 30, 0, time.UTC)
	sched.clock = func() time.Time { return now }

	rule := scheduledRule("hourly", "0 * * * *")
	due := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	rule.Trigger.Schedule.NextExecution = &due
	require.NoError(t, store.SaveRule(ctx, rule))

	// The schedule write lands only after the dispatched execution has
	// reached its terminal state and bumped the rule counter.
	store.beforePersist = func() {
		executions, err := eng.ListExecutions(ctx, rule.ID)
		require.NoError(t, err)
		require.Len(t, executions, 1)
		<-eng.Wait(executions[0].ID)
	}

	sched.scan(ctx)

	stored, err := store.RuleByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ExecutionCount)
	require.NotNil(t, stored.LastExecuted)
	require.NotNil(t, stored.Trigger.Schedule.NextExecution)
	assert.Equal(t, time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC), stored.Trigger.Schedule.NextExecution.UTC())
}
