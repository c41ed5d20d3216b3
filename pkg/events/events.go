// Package events defines event types and structures for rule and
// execution lifecycle notifications.
package events

import (
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
)

type EventType string

const Topic = "deskflow.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RuleTriggeredEvent EventType = "rule.triggered"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionTimeoutEvent   EventType = "execution.timeout"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RuleID    string    `json:"rule_id"`
}

type RuleTriggered struct {
	BaseEvent

	TriggeredBy string         `json:"triggered_by"`
	Context     map[string]any `json:"context,omitempty"`
}

func (e RuleTriggered) GetType() EventType {
	return RuleTriggeredEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	TriggeredBy string `json:"triggered_by"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionFinished covers every terminal transition; Type carries the
// terminal status flavor.
type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Duration    time.Duration          `json:"duration"`
	Error       string                 `json:"error,omitempty"`
}

func (e ExecutionFinished) GetType() EventType {
	switch e.Status {
	case models.ExecutionFailed:
		return ExecutionFailedEvent
	case models.ExecutionCancelled:
		return ExecutionCancelledEvent
	case models.ExecutionTimeout:
		return ExecutionTimeoutEvent
	default:
		return ExecutionCompletedEvent
	}
}
