// Package postgres provides PostgreSQL persistence for rules,
// executions, and templates.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // postgres driver
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	ruleRepo      *RuleRepository
	executionRepo *ExecutionRepository
	templateRepo  *TemplateRepository
}

// NewPersistence connects, runs migrations, and returns the persistence
// layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		ruleRepo:      NewRuleRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		templateRepo:  NewTemplateRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Rules(ctx context.Context) ([]*models.WorkflowRule, error) {
	return p.ruleRepo.GetAll(ctx)
}

func (p *Persistence) RuleByID(ctx context.Context, id string) (*models.WorkflowRule, error) {
	return p.ruleRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveRule(ctx context.Context, rule *models.WorkflowRule) error {
	return p.ruleRepo.Save(ctx, rule)
}

func (p *Persistence) DeleteRule(ctx context.Context, id string) error {
	return p.ruleRepo.Delete(ctx, id)
}

func (p *Persistence) SetRuleActive(ctx context.Context, id string, active bool) error {
	return p.ruleRepo.SetActive(ctx, id, active)
}

func (p *Persistence) RecordRuleExecution(ctx context.Context, id string, at time.Time) error {
	return p.ruleRepo.RecordExecution(ctx, id, at)
}

func (p *Persistence) UpdateRuleSchedule(ctx context.Context, id string, next time.Time) error {
	return p.ruleRepo.UpdateSchedule(ctx, id, next)
}

func (p *Persistence) AppendExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.executionRepo.Append(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) Executions(ctx context.Context, ruleID string) ([]*models.WorkflowExecution, error) {
	return p.executionRepo.List(ctx, ruleID)
}

func (p *Persistence) Templates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return p.templateRepo.GetAll(ctx)
}

func (p *Persistence) TemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return p.templateRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	return p.templateRepo.Save(ctx, template)
}

func (p *Persistence) DeleteTemplate(ctx context.Context, id string) error {
	return p.templateRepo.Delete(ctx, id)
}
