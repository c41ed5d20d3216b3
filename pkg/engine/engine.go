// Package engine orchestrates rule firings: condition evaluation, the
// sequential action pipeline, the execution state machine, and the
// append-only execution history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deskflowhq/deskflow/pkg/actions"
	"github.com/deskflowhq/deskflow/pkg/conditions"
	"github.com/deskflowhq/deskflow/pkg/eventbus"
	"github.com/deskflowhq/deskflow/pkg/events"
	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/otelhelper"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultExecutionTimeout caps an execution's wall clock unless
// configured otherwise.
const DefaultExecutionTimeout = 300 * time.Second

var ErrRuleInactive = errors.New("rule is not active")

type Config struct {
	// ExecutionTimeout is the watchdog ceiling per execution. Zero
	// means DefaultExecutionTimeout.
	ExecutionTimeout time.Duration
}

// run tracks one in-flight execution. The engine mutex guards the
// execution record; contextSnapshot is a detached copy refreshed
// between actions so readers never observe a half-mutated context.
type run struct {
	execution       *models.WorkflowExecution
	contextSnapshot map[string]any
	cancelRequested bool
	done            chan struct{}
}

type Engine struct {
	persistence persistence.Persistence
	evaluator   *conditions.Evaluator
	executor    *actions.Executor
	bus         eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
	config      Config

	mu        sync.Mutex
	live      map[string]*run
	running   map[string]int
	ruleLocks map[string]*sync.Mutex
}

// New creates an engine. The event bus may be nil for deployments that
// do not publish lifecycle events.
func New(p persistence.Persistence, evaluator *conditions.Evaluator, executor *actions.Executor, bus eventbus.EventBus, logger *slog.Logger, config Config) *Engine {
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = DefaultExecutionTimeout
	}

	return &Engine{
		persistence: p,
		evaluator:   evaluator,
		executor:    executor,
		bus:         bus,
		logger:      logger.With("module", "execution_engine"),
		config:      config,
		live:        make(map[string]*run),
		running:     make(map[string]int),
		ruleLocks:   make(map[string]*sync.Mutex),
	}
}

// WithTracer enables span creation around executions and steps.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Execute starts one execution of the rule and returns a snapshot once
// it is running. Completion is observed via Wait or GetExecution. The
// payload is copied; the caller's map is never mutated.
func (e *Engine) Execute(ctx context.Context, rule *models.WorkflowRule, triggeredBy string, payload map[string]any) (*models.WorkflowExecution, error) {
	if rule == nil {
		return nil, errors.New("rule is required")
	}

	if !rule.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrRuleInactive, rule.ID)
	}

	if len(rule.Actions) == 0 {
		return nil, fmt.Errorf("rule %s has no actions", rule.ID)
	}

	execution := &models.WorkflowExecution{
		ID:          "exec-" + uuid.New().String(),
		RuleID:      rule.ID,
		TriggeredBy: triggeredBy,
		StartTime:   time.Now().UTC(),
		Status:      models.ExecutionPending,
		Context:     copyMap(payload),
		Steps:       make([]models.WorkflowStep, 0, len(rule.Actions)),
	}
	execution.AppendLog(models.LogInfo, "execution created")

	execution.Status = models.ExecutionRunning
	execution.AppendLog(models.LogInfo, "execution started")

	r := &run{
		execution:       execution,
		contextSnapshot: copyMap(execution.Context),
		done:            make(chan struct{}),
	}

	e.mu.Lock()
	e.live[execution.ID] = r
	e.running[rule.ID]++
	e.mu.Unlock()

	e.logger.Info("Starting execution",
		"execution_id", execution.ID,
		"rule_id", rule.ID,
		"triggered_by", triggeredBy,
	)

	e.publish(ctx, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, rule.ID),
		ExecutionID: execution.ID,
		TriggeredBy: triggeredBy,
	})

	snapshot := e.snapshot(r)

	go e.runPipeline(rule, r)

	return snapshot, nil
}

func (e *Engine) runPipeline(rule *models.WorkflowRule, r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.ExecutionTimeout)
	defer cancel()

	execution := r.execution

	var span trace.Span

	if e.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "rule.execute",
			attribute.String(otelhelper.RuleIDKey, rule.ID),
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		)
		defer span.End()
	}

	matched, evalErr := e.evaluate(ctx, rule, r)
	if evalErr != nil {
		if span != nil {
			otelhelper.SetError(span, evalErr)
		}

		e.finalize(ctx, rule, r, models.ExecutionFailed, "condition evaluation failed: "+evalErr.Error())

		return
	}

	if !matched {
		e.withRun(r, func() {
			execution.AppendLog(models.LogInfo, "conditions did not match, action pipeline skipped")
		})
		e.finalize(ctx, rule, r, models.ExecutionCompleted, "")

		return
	}

	for i, action := range rule.Actions {
		// Cancellation and timeout take effect between actions; an
		// in-flight action finishes its own retry loop first.
		if e.cancelRequested(r) {
			e.skipRemaining(r, rule.Actions[i:])
			e.finalize(ctx, rule, r, models.ExecutionCancelled, "execution cancelled before action "+action.Name)

			return
		}

		if ctx.Err() != nil {
			e.skipRemaining(r, rule.Actions[i:])
			e.finalize(ctx, rule, r, models.ExecutionTimeout, "execution exceeded the configured timeout")

			return
		}

		step := e.executor.Run(ctx, action, execution.Context)

		e.withRun(r, func() {
			execution.Steps = append(execution.Steps, step)
			r.contextSnapshot = copyMap(execution.Context)

			switch step.Status {
			case models.StepCompleted:
				execution.AppendLog(models.LogInfo, fmt.Sprintf("action %q completed", action.Name))
			case models.StepFailed:
				execution.Errors = append(execution.Errors, step.Error)
				execution.AppendLog(models.LogError, fmt.Sprintf("action %q failed: %s", action.Name, step.Error))
			case models.StepCancelled, models.StepSkipped:
				execution.AppendLog(models.LogWarn, fmt.Sprintf("action %q did not finish: %s", action.Name, step.Status))
			}
		})

		switch step.Status {
		case models.StepFailed:
			if !action.ContinueOnError {
				if span != nil {
					otelhelper.SetError(span, errors.New(step.Error),
						attribute.String("action_id", action.ID))
				}

				e.skipRemaining(r, rule.Actions[i+1:])
				e.finalize(ctx, rule, r, models.ExecutionFailed, fmt.Sprintf("action %q failed after %d retries", action.Name, step.RetryCount))

				return
			}

			e.withRun(r, func() {
				execution.AppendLog(models.LogInfo, fmt.Sprintf("continuing after failure of %q (continue_on_error)", action.Name))
			})
		case models.StepCancelled:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				e.skipRemaining(r, rule.Actions[i+1:])
				e.finalize(ctx, rule, r, models.ExecutionTimeout, "execution exceeded the configured timeout")
			} else {
				e.skipRemaining(r, rule.Actions[i+1:])
				e.finalize(ctx, rule, r, models.ExecutionCancelled, "execution cancelled during action "+action.Name)
			}

			return
		case models.StepCompleted, models.StepSkipped:
		}
	}

	e.finalize(ctx, rule, r, models.ExecutionCompleted, "")
}

// evaluate runs the condition chain. A panic inside evaluation is the
// only way conditions fail an execution; ordinary per-condition errors
// degrade to no-match warn logs.
func (e *Engine) evaluate(ctx context.Context, rule *models.WorkflowRule, r *run) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	matched, condLogs := e.evaluator.Match(ctx, rule.Conditions, r.execution.Context, r.execution.StartTime)

	e.withRun(r, func() {
		r.execution.Logs = append(r.execution.Logs, condLogs...)
	})

	return matched, nil
}

func (e *Engine) skipRemaining(r *run, remaining []models.Action) {
	now := time.Now().UTC()

	e.withRun(r, func() {
		for _, action := range remaining {
			r.execution.Steps = append(r.execution.Steps, models.WorkflowStep{
				ActionID:  action.ID,
				Name:      action.Name,
				Status:    models.StepSkipped,
				StartTime: now,
				EndTime:   now,
			})
		}
	})
}

// finalize performs the terminal transition exactly once, hands the
// record to the history, and bumps the rule counters for completed and
// failed outcomes.
func (e *Engine) finalize(ctx context.Context, rule *models.WorkflowRule, r *run, status models.ExecutionStatus, errMsg string) {
	execution := r.execution

	e.mu.Lock()

	if execution.Status.Terminal() {
		e.mu.Unlock()

		return
	}

	now := time.Now().UTC()
	execution.Status = status
	execution.EndTime = &now
	execution.Duration = now.Sub(execution.StartTime)

	if errMsg != "" {
		execution.Errors = append(execution.Errors, errMsg)
		execution.AppendLog(models.LogError, errMsg)
	}

	execution.AppendLog(models.LogInfo, "execution finished with status "+string(status))
	r.contextSnapshot = copyMap(execution.Context)
	e.mu.Unlock()

	e.logger.Info("Execution finished",
		"execution_id", execution.ID,
		"rule_id", rule.ID,
		"status", status,
		"duration", execution.Duration,
	)

	if status == models.ExecutionCompleted || status == models.ExecutionFailed {
		lock := e.ruleLock(rule.ID)
		lock.Lock()

		if err := e.persistence.RecordRuleExecution(context.Background(), rule.ID, now); err != nil {
			e.logger.Error("Failed to record rule execution", "rule_id", rule.ID, "error", err)
		}

		lock.Unlock()
	}

	if err := e.persistence.AppendExecution(context.Background(), execution); err != nil {
		e.logger.Error("Failed to append execution to history", "execution_id", execution.ID, "error", err)
	}

	finished := events.ExecutionFinished{
		ExecutionID: execution.ID,
		Status:      status,
		Duration:    execution.Duration,
		Error:       errMsg,
	}
	finished.BaseEvent = e.baseEvent(finished.GetType(), rule.ID)
	e.publish(ctx, finished)

	e.mu.Lock()
	delete(e.live, execution.ID)
	e.running[rule.ID]--

	if e.running[rule.ID] <= 0 {
		delete(e.running, rule.ID)
	}

	e.mu.Unlock()

	close(r.done)
}

// CancelExecution requests cancellation of one in-flight execution. It
// takes effect before the next action starts.
func (e *Engine) CancelExecution(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.live[id]
	if !ok {
		return false
	}

	r.cancelRequested = true

	return true
}

// CancelRule requests cancellation of every in-flight execution of the
// rule. Used when a rule is deactivated mid-flight.
func (e *Engine) CancelRule(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancelled := 0

	for _, r := range e.live {
		if r.execution.RuleID == ruleID {
			r.cancelRequested = true
			cancelled++
		}
	}

	return cancelled
}

// RunningCount reports in-flight executions for the rule. The scheduler
// uses it to avoid overlapping runs of the same scheduled rule.
func (e *Engine) RunningCount(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running[ruleID]
}

// Wait returns a channel closed when the execution reaches a terminal
// state. Unknown IDs get an already-closed channel.
func (e *Engine) Wait(id string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.live[id]; ok {
		return r.done
	}

	closed := make(chan struct{})
	close(closed)

	return closed
}

// GetExecution returns a live snapshot for in-flight executions, or the
// historical record for finished ones.
func (e *Engine) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	e.mu.Lock()

	if r, ok := e.live[id]; ok {
		snapshot := e.snapshotLocked(r)
		e.mu.Unlock()

		return snapshot, nil
	}

	e.mu.Unlock()

	return e.persistence.ExecutionByID(ctx, id)
}

// ListExecutions merges in-flight snapshots with the history. finalize
// appends to history before dropping the live entry, so an execution
// can briefly exist in both; the historical record wins.
func (e *Engine) ListExecutions(ctx context.Context, ruleID string) ([]*models.WorkflowExecution, error) {
	history, err := e.persistence.Executions(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]struct{}, len(history))
	for _, execution := range history {
		recorded[execution.ID] = struct{}{}
	}

	e.mu.Lock()

	for _, r := range e.live {
		if ruleID != "" && r.execution.RuleID != ruleID {
			continue
		}

		if _, ok := recorded[r.execution.ID]; ok {
			continue
		}

		history = append(history, e.snapshotLocked(r))
	}

	e.mu.Unlock()

	return history, nil
}

func (e *Engine) cancelRequested(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return r.cancelRequested
}

func (e *Engine) withRun(r *run, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn()
}

func (e *Engine) snapshot(r *run) *models.WorkflowExecution {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked(r)
}

// snapshotLocked copies the execution record; the context comes from
// the between-actions snapshot, never the live working map.
func (e *Engine) snapshotLocked(r *run) *models.WorkflowExecution {
	execution := r.execution

	copied := &models.WorkflowExecution{
		ID:          execution.ID,
		RuleID:      execution.RuleID,
		TriggeredBy: execution.TriggeredBy,
		StartTime:   execution.StartTime,
		Status:      execution.Status,
		Context:     copyMap(r.contextSnapshot),
		Steps:       append([]models.WorkflowStep(nil), execution.Steps...),
		Errors:      append([]string(nil), execution.Errors...),
		Logs:        append([]models.WorkflowLog(nil), execution.Logs...),
		Duration:    execution.Duration,
	}

	if execution.EndTime != nil {
		endTime := *execution.EndTime
		copied.EndTime = &endTime
	}

	return copied
}

func (e *Engine) ruleLock(ruleID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.ruleLocks[ruleID]
	if !ok {
		lock = &sync.Mutex{}
		e.ruleLocks[ruleID] = lock
	}

	return lock
}

func (e *Engine) baseEvent(eventType events.EventType, ruleID string) events.BaseEvent {
	id := uuid.New().String()
	if e.bus != nil {
		id = e.bus.GenerateID()
	}

	return events.BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RuleID:    ruleID,
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, string(event.GetType()), event); err != nil {
		e.logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// copyMap makes a detached copy of a context payload, descending into
// nested maps and slices.
func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return make(map[string]any)
	}

	dst := make(map[string]any, len(src))

	for key, value := range src {
		dst[key] = copyValue(value)
	}

	return dst
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return copyMap(v)
	case []any:
		copied := make([]any, len(v))

		for i, item := range v {
			copied[i] = copyValue(item)
		}

		return copied
	default:
		return value
	}
}
