package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
)

// Dispatcher routes trigger firings to the engine. Event firings fan
// out to every matching active rule; manual and webhook firings target
// one rule by ID.
type Dispatcher struct {
	engine      *Engine
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewDispatcher(engine *Engine, p persistence.Persistence, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:      engine,
		persistence: p,
		logger:      logger.With("module", "trigger_dispatcher"),
	}
}

// OnEvent fires every active rule whose trigger listens for eventName.
// Matches run in priority order (ascending, ties by creation time) and
// each gets its own copy of the payload. Returns the started
// executions.
func (d *Dispatcher) OnEvent(ctx context.Context, eventName string, payload map[string]any) ([]*models.WorkflowExecution, error) {
	rules, err := d.persistence.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	matched := make([]*models.WorkflowRule, 0)

	for _, rule := range rules {
		if rule.IsActive && rule.Trigger.Kind == models.TriggerEvent && rule.Trigger.Event == eventName {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}

		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	d.logger.Info("Dispatching event", "event", eventName, "matched_rules", len(matched))

	executions := make([]*models.WorkflowExecution, 0, len(matched))

	for _, rule := range matched {
		execution, err := d.engine.Execute(ctx, rule, "event:"+eventName, payload)
		if err != nil {
			d.logger.Error("Failed to start execution", "rule_id", rule.ID, "event", eventName, "error", err)

			continue
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

// Execute fires one rule directly, for manual and webhook triggers.
func (d *Dispatcher) Execute(ctx context.Context, ruleID, triggeredBy string, payload map[string]any) (*models.WorkflowExecution, error) {
	rule, err := d.persistence.RuleByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	return d.engine.Execute(ctx, rule, triggeredBy, payload)
}

// ExecuteScheduled fires a schedule trigger. Overlapping runs of the
// same rule are skipped rather than queued.
func (d *Dispatcher) ExecuteScheduled(ctx context.Context, rule *models.WorkflowRule, scheduledFor time.Time) (*models.WorkflowExecution, error) {
	if d.engine.RunningCount(rule.ID) > 0 {
		d.logger.Warn("Skipping scheduled run, previous execution still in flight",
			"rule_id", rule.ID,
			"scheduled_for", scheduledFor,
		)

		return nil, nil
	}

	payload := map[string]any{
		"scheduledFor": scheduledFor.UTC().Format(time.RFC3339),
	}

	return d.engine.Execute(ctx, rule, "schedule", payload)
}
