// Package models defines the core domain models for rule-based help-desk automation.
package models

import "time"

// WorkflowRule is an automation rule: one trigger, an ordered condition
// chain, and an ordered action pipeline. Rules own no execution state
// beyond the running counters; executions reference rules by ID only.
type WorkflowRule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"                   validate:"required,min=3"`
	Description string      `json:"description"`
	IsActive    bool        `json:"is_active"`
	Trigger     Trigger     `json:"trigger"                validate:"required"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"                validate:"required,min=1,dive"`
	Priority    int         `json:"priority"               validate:"omitempty,min=1,max=100"`
	Category    string      `json:"category,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	CreatedBy   string      `json:"created_by,omitempty"`
	UpdatedBy   string      `json:"updated_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// ExecutionCount and LastExecuted are bumped by the engine when an
	// execution reaches a terminal completed or failed state.
	ExecutionCount int64      `json:"execution_count"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
}
