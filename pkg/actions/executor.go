// Package actions runs a rule's actions against the collaborator
// interfaces, applying per-action delay, retry, and error policy.
package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/protocol"
)

const defaultAPICallTimeout = 30 * time.Second

// Executor runs one action at a time. It never panics or errors past
// its boundary: every outcome is captured as a WorkflowStep.
type Executor struct {
	collaborators protocol.Collaborators
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewExecutor(collaborators protocol.Collaborators, logger *slog.Logger) *Executor {
	return &Executor{
		collaborators: collaborators,
		httpClient:    &http.Client{},
		logger:        logger.With("module", "action_executor"),
	}
}

// Run executes the action against the context, which it may mutate so
// later actions in the pipeline observe the changes. The returned step
// records only the final attempt; RetryCount is the number of retries
// actually spent.
func (e *Executor) Run(ctx context.Context, action models.Action, execCtx map[string]any) models.WorkflowStep {
	step := models.WorkflowStep{
		ActionID:  action.ID,
		Name:      action.Name,
		StartTime: time.Now().UTC(),
	}

	logger := e.logger.With("action_id", action.ID, "action_kind", action.Kind)

	if action.DelaySeconds > 0 {
		logger.Debug("Delaying action", "seconds", action.DelaySeconds)

		if err := wait(ctx, time.Duration(action.DelaySeconds)*time.Second); err != nil {
			return finish(step, models.StepCancelled, nil, err, 0)
		}
	}

	retries := 0

	for {
		result, err := e.dispatch(ctx, action, execCtx)
		if err == nil {
			return finish(step, models.StepCompleted, result, nil, retries)
		}

		logger.Warn("Action attempt failed", "retries_used", retries, "error", err)

		if ctx.Err() != nil {
			return finish(step, models.StepCancelled, nil, ctx.Err(), retries)
		}

		if retries >= action.RetryCount {
			return finish(step, models.StepFailed, nil, err, retries)
		}

		if action.RetryDelaySeconds > 0 {
			if waitErr := wait(ctx, time.Duration(action.RetryDelaySeconds)*time.Second); waitErr != nil {
				return finish(step, models.StepCancelled, nil, waitErr, retries)
			}
		}

		retries++
	}
}

func finish(step models.WorkflowStep, status models.StepStatus, result any, err error, retries int) models.WorkflowStep {
	step.Status = status
	step.Result = result
	step.RetryCount = retries
	step.EndTime = time.Now().UTC()
	step.Duration = step.EndTime.Sub(step.StartTime)

	if err != nil {
		step.Error = err.Error()
	}

	return step
}

// dispatch routes the action by kind. Panics from collaborators are
// converted to errors so they stay subject to the retry policy.
func (e *Executor) dispatch(ctx context.Context, action models.Action, execCtx map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", action.ID, r)
		}
	}()

	switch action.Kind {
	case models.ActionAssign:
		return e.assign(ctx, action, execCtx)
	case models.ActionUpdate:
		return e.update(ctx, action, execCtx)
	case models.ActionNotify:
		return e.notify(ctx, action, execCtx)
	case models.ActionEscalate:
		return e.escalate(ctx, action, execCtx)
	case models.ActionCreate:
		return e.create(ctx, action, execCtx)
	case models.ActionClose:
		return e.close(ctx, action, execCtx)
	case models.ActionComment:
		return e.comment(ctx, action, execCtx)
	case models.ActionScript:
		return e.script(ctx, action, execCtx)
	case models.ActionAPICall:
		return e.apiCall(ctx, action)
	case models.ActionDelay:
		return e.delay(ctx, action)
	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (e *Executor) assign(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Tickets == nil {
		return nil, fmt.Errorf("assign action requires a ticket store")
	}

	assignee, err := requiredString(action.Configuration, "assignee")
	if err != nil {
		return nil, err
	}

	ticketID, err := ticketID(action.Configuration, execCtx)
	if err != nil {
		return nil, err
	}

	if err := e.collaborators.Tickets.Assign(ctx, ticketID, assignee); err != nil {
		return nil, err
	}

	execCtx["assignedTo"] = assignee

	return map[string]any{"ticket_id": ticketID, "assignee": assignee}, nil
}

func (e *Executor) update(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Tickets == nil {
		return nil, fmt.Errorf("update action requires a ticket store")
	}

	field, err := requiredString(action.Configuration, "field")
	if err != nil {
		return nil, err
	}

	value, ok := action.Configuration["value"]
	if !ok {
		return nil, fmt.Errorf("update action requires a value")
	}

	ticketID, err := ticketID(action.Configuration, execCtx)
	if err != nil {
		return nil, err
	}

	if err := e.collaborators.Tickets.UpdateField(ctx, ticketID, field, value); err != nil {
		return nil, err
	}

	execCtx[field] = value

	return map[string]any{"ticket_id": ticketID, "field": field, "value": value}, nil
}

func (e *Executor) notify(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Notifier == nil {
		return nil, fmt.Errorf("notify action requires a notification sink")
	}

	template, err := requiredString(action.Configuration, "template")
	if err != nil {
		return nil, err
	}

	channels := stringSlice(action.Configuration["channels"])
	if len(channels) == 0 {
		channels = []string{"email"}
	}

	recipients := stringSlice(action.Configuration["recipients"])
	if len(recipients) == 0 {
		if assignee, ok := execCtx["assignedTo"].(string); ok && assignee != "" {
			recipients = []string{assignee}
		}
	}

	if len(recipients) == 0 {
		return nil, fmt.Errorf("notify action has no recipients")
	}

	variables, _ := action.Configuration["variables"].(map[string]any)
	if variables == nil {
		variables = make(map[string]any)
	}

	if id, ok := execCtx["ticketId"]; ok {
		variables["ticketId"] = id
	}

	if err := e.collaborators.Notifier.Send(ctx, channels, recipients, template, variables); err != nil {
		return nil, err
	}

	return map[string]any{"template": template, "recipients": recipients, "channels": channels}, nil
}

func (e *Executor) escalate(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Tickets == nil {
		return nil, fmt.Errorf("escalate action requires a ticket store")
	}

	level := optionalString(action.Configuration, "priority", "urgent")

	ticketID, err := ticketID(action.Configuration, execCtx)
	if err != nil {
		return nil, err
	}

	if err := e.collaborators.Tickets.UpdateField(ctx, ticketID, "priority", level); err != nil {
		return nil, err
	}

	if err := e.collaborators.Tickets.AddComment(ctx, ticketID, "Escalated to "+level+" by automation", true); err != nil {
		return nil, err
	}

	execCtx["priority"] = level
	execCtx["escalated"] = true

	return map[string]any{"ticket_id": ticketID, "priority": level}, nil
}

func (e *Executor) create(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Tickets == nil {
		return nil, fmt.Errorf("create action requires a ticket store")
	}

	fields, ok := action.Configuration["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf("create action requires a fields map")
	}

	id, err := e.collaborators.Tickets.Create(ctx, fields)
	if err != nil {
		return nil, err
	}

	execCtx["createdTicketId"] = id

	return map[string]any{"ticket_id": id}, nil
}

func (e *Executor) close(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Tickets == nil {
		return nil, fmt.Errorf("close action requires a ticket store")
	}

	ticketID, err := ticketID(action.Configuration, execCtx)
	if err != nil {
		return nil, err
	}

	if err := e.collaborators.Tickets.UpdateField(ctx, ticketID, "status", "closed"); err != nil {
		return nil, err
	}

	if comment := optionalString(action.Configuration, "comment", ""); comment != "" {
		if err := e.collaborators.Tickets.AddComment(ctx, ticketID, comment, false); err != nil {
			return nil, err
		}
	}

	execCtx["status"] = "closed"

	return map[string]any{"ticket_id": ticketID, "status": "closed"}, nil
}

func (e *Executor) comment(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Tickets == nil {
		return nil, fmt.Errorf("comment action requires a ticket store")
	}

	text, err := requiredString(action.Configuration, "text")
	if err != nil {
		return nil, err
	}

	internal, _ := action.Configuration["internal"].(bool)

	ticketID, err := ticketID(action.Configuration, execCtx)
	if err != nil {
		return nil, err
	}

	if err := e.collaborators.Tickets.AddComment(ctx, ticketID, text, internal); err != nil {
		return nil, err
	}

	return map[string]any{"ticket_id": ticketID}, nil
}

func (e *Executor) script(ctx context.Context, action models.Action, execCtx map[string]any) (any, error) {
	if e.collaborators.Scripts == nil {
		return nil, fmt.Errorf("script action requires a script runner")
	}

	name, err := requiredString(action.Configuration, "script")
	if err != nil {
		return nil, err
	}

	parameters, _ := action.Configuration["parameters"].(map[string]any)
	if parameters == nil {
		parameters = make(map[string]any)
	}

	parameters["context"] = execCtx

	return e.collaborators.Scripts.Run(ctx, name, parameters)
}

func (e *Executor) apiCall(ctx context.Context, action models.Action) (any, error) {
	url, err := requiredString(action.Configuration, "url")
	if err != nil {
		return nil, err
	}

	method := optionalString(action.Configuration, "method", http.MethodPost)
	body := optionalString(action.Configuration, "body", "")

	timeout := defaultAPICallTimeout
	if seconds, err := numeric(action.Configuration["timeout_seconds"]); err == nil && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if headers, ok := action.Configuration["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	return map[string]any{"status_code": resp.StatusCode, "body": string(respBody)}, nil
}

func (e *Executor) delay(ctx context.Context, action models.Action) (any, error) {
	seconds, err := numeric(action.Configuration["seconds"])
	if err != nil || seconds <= 0 {
		return nil, fmt.Errorf("delay action requires a positive seconds value")
	}

	if err := wait(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return nil, err
	}

	return map[string]any{"waited_seconds": seconds}, nil
}

// wait sleeps without blocking other executions; it returns early when
// the execution's context is cancelled or times out.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ticketID(config map[string]any, execCtx map[string]any) (string, error) {
	if id, ok := config["ticket_id"].(string); ok && id != "" {
		return id, nil
	}

	if id, ok := execCtx["ticketId"].(string); ok && id != "" {
		return id, nil
	}

	return "", fmt.Errorf("no ticket id in action configuration or context")
}

func requiredString(config map[string]any, key string) (string, error) {
	value, ok := config[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("action configuration is missing %q", key)
	}

	return value, nil
}

func optionalString(config map[string]any, key, fallback string) string {
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}

	return fallback
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func numeric(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", value)
	}
}
