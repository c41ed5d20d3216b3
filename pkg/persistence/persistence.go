// Package persistence provides the data storage abstraction for rules,
// executions, and templates.
package persistence

import (
	"context"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
)

// RuleRepository stores WorkflowRule definitions. The repository owns the
// stored copies; callers receive detached copies they may mutate freely.
type RuleRepository interface {
	Rules(ctx context.Context) ([]*models.WorkflowRule, error)
	RuleByID(ctx context.Context, id string) (*models.WorkflowRule, error)
	SaveRule(ctx context.Context, rule *models.WorkflowRule) error
	DeleteRule(ctx context.Context, id string) error
	SetRuleActive(ctx context.Context, id string, active bool) error

	// RecordRuleExecution atomically bumps the rule's execution counter
	// and stamps its last-executed time.
	RecordRuleExecution(ctx context.Context, id string, at time.Time) error

	// UpdateRuleSchedule persists a recomputed next-execution time
	// without touching any other field, so schedule bookkeeping cannot
	// race with counter updates from concurrent executions.
	UpdateRuleSchedule(ctx context.Context, id string, next time.Time) error
}

// ExecutionRepository is the append-only execution history. Appends may
// happen concurrently from independent executions.
type ExecutionRepository interface {
	AppendExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// Executions lists history, optionally filtered by rule ID (empty
	// string means all rules).
	Executions(ctx context.Context, ruleID string) ([]*models.WorkflowExecution, error)
}

// TemplateRepository stores reusable rule templates.
type TemplateRepository interface {
	Templates(ctx context.Context) ([]*models.WorkflowTemplate, error)
	TemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

type Persistence interface {
	RuleRepository
	ExecutionRepository
	TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
