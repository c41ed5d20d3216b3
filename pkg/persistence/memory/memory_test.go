package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRule(id string) *models.WorkflowRule {
	return &models.WorkflowRule{
		ID:       id,
		Name:     "Auto-assign new tickets",
		IsActive: true,
		Trigger:  models.Trigger{Kind: models.TriggerEvent, Event: models.EventTicketCreated},
		Actions: []models.Action{
			{ID: "a1", Kind: models.ActionAssign, Name: "assign", Configuration: map[string]any{"assignee": "agent-1"}},
		},
		Priority:  1,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestPersistence_RuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.SaveRule(ctx, testRule("rule-1")))

	rule, err := store.RuleByID(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, "Auto-assign new tickets", rule.Name)

	// Returned copy is detached from the stored one.
	rule.Name = "mutated"

	stored, err := store.RuleByID(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, "Auto-assign new tickets", stored.Name)
}

func TestPersistence_RuleNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	_, err := store.RuleByID(ctx, "missing")
	assert.True(t, persistence.IsRuleNotFound(err))

	assert.True(t, persistence.IsRuleNotFound(store.DeleteRule(ctx, "missing")))
	assert.True(t, persistence.IsRuleNotFound(store.SetRuleActive(ctx, "missing", false)))
	assert.True(t, persistence.IsRuleNotFound(store.RecordRuleExecution(ctx, "missing", time.Now())))
}

func TestPersistence_SetRuleActive(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	require.NoError(t, store.SaveRule(ctx, testRule("rule-1")))

	require.NoError(t, store.SetRuleActive(ctx, "rule-1", false))

	rule, err := store.RuleByID(ctx, "rule-1")
	require.NoError(t, err)
	assert.False(t, rule.IsActive)
}

func TestPersistence_RecordRuleExecution(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	require.NoError(t, store.SaveRule(ctx, testRule("rule-1")))

	at := time.Now().UTC()
	require.NoError(t, store.RecordRuleExecution(ctx, "rule-1", at))
	require.NoError(t, store.RecordRuleExecution(ctx, "rule-1", at))

	rule, err := store.RuleByID(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rule.ExecutionCount)
	require.NotNil(t, rule.LastExecuted)
	assert.WithinDuration(t, at, *rule.LastExecuted, time.Second)
}

func TestPersistence_ConcurrentExecutionAppends(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	var wg sync.WaitGroup

	const workers = 20

	for i := range workers {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			execution := &models.WorkflowExecution{
				ID:     fmt.Sprintf("exec-%d", n),
				RuleID: "rule-1",
				Status: models.ExecutionCompleted,
			}
			assert.NoError(t, store.AppendExecution(ctx, execution))
		}(i)
	}

	wg.Wait()

	executions, err := store.Executions(ctx, "rule-1")
	require.NoError(t, err)
	assert.Len(t, executions, workers)
}

func TestPersistence_ExecutionsFilterByRule(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.AppendExecution(ctx, &models.WorkflowExecution{ID: "e1", RuleID: "rule-1"}))
	require.NoError(t, store.AppendExecution(ctx, &models.WorkflowExecution{ID: "e2", RuleID: "rule-2"}))
	require.NoError(t, store.AppendExecution(ctx, &models.WorkflowExecution{ID: "e3", RuleID: "rule-1"}))

	all, err := store.Executions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := store.Executions(ctx, "rule-1")
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestPersistence_AppendExecutionUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.AppendExecution(ctx, &models.WorkflowExecution{ID: "e1", RuleID: "rule-1", Status: models.ExecutionRunning}))
	require.NoError(t, store.AppendExecution(ctx, &models.WorkflowExecution{ID: "e1", RuleID: "rule-1", Status: models.ExecutionCompleted}))

	execution, err := store.ExecutionByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	all, err := store.Executions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPersistence_TemplateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	template := &models.WorkflowTemplate{
		ID:   "tpl-1",
		Name: "Escalation template",
		Parameters: []models.TemplateParameter{
			{Name: "team", Type: models.ParameterString, Required: true},
		},
		Rule: *testRule(""),
	}
	require.NoError(t, store.SaveTemplate(ctx, template))

	loaded, err := store.TemplateByID(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "Escalation template", loaded.Name)

	_, err = store.TemplateByID(ctx, "missing")
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestPersistence_UpdateRuleSchedule(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	rule := testRule("rule-1")
	rule.Trigger = models.Trigger{
		Kind: models.TriggerSchedule,
		Schedule: &models.ScheduleSpec{
			CronExpression: "0 9 * * *",
			Enabled:        true,
		},
	}
	require.NoError(t, store.SaveRule(ctx, rule))

	at := time.Now().UTC()
	require.NoError(t, store.RecordRuleExecution(ctx, "rule-1", at))

	next := at.Add(time.Hour)
	require.NoError(t, store.UpdateRuleSchedule(ctx, "rule-1", next))

	stored, err := store.RuleByID(ctx, "rule-1")
	require.NoError(t, err)

	require.NotNil(t, stored.Trigger.Schedule.NextExecution)
	assert.True(t, stored.Trigger.Schedule.NextExecution.Equal(next))

	// The counter bump recorded above must survive the schedule write.
	assert.Equal(t, int64(1), stored.ExecutionCount)
	require.NotNil(t, stored.LastExecuted)

	assert.True(t, persistence.IsRuleNotFound(store.UpdateRuleSchedule(ctx, "missing", next)))
}
