package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
)

// RuleRepository stores rules with the structured parts as JSONB
// documents and the queryable parts as columns.
type RuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRuleRepository(db *sql.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger.With("module", "rule_repository"),
	}
}

const ruleColumns = `
	id, name, description, is_active, trigger, conditions, actions,
	priority, category, tags, created_by, updated_by,
	execution_count, last_executed, created_at, updated_at
`

func (r *RuleRepository) GetAll(ctx context.Context) ([]*models.WorkflowRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM workflow_rules ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	rules := make([]*models.WorkflowRule, 0)

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	return rules, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM workflow_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRuleNotFound, id)
		}

		return nil, err
	}

	return rule, nil
}

func (r *RuleRepository) Save(ctx context.Context, rule *models.WorkflowRule) error {
	trigger, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	conditions, err := json.Marshal(orEmptyConditions(rule.Conditions))
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	var tags []byte

	if rule.Tags != nil {
		tags, err = json.Marshal(rule.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			trigger = EXCLUDED.trigger,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			priority = EXCLUDED.priority,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			created_by = EXCLUDED.created_by,
			updated_by = EXCLUDED.updated_by,
			execution_count = EXCLUDED.execution_count,
			last_executed = EXCLUDED.last_executed,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.IsActive,
		trigger,
		conditions,
		actions,
		rule.Priority,
		nullString(rule.Category),
		nullBytes(tags),
		nullString(rule.CreatedBy),
		nullString(rule.UpdatedBy),
		rule.ExecutionCount,
		nullTime(rule.LastExecuted),
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return checkAffected(result, persistence.ErrRuleNotFound, id)
}

func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE workflow_rules SET is_active = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to set rule active: %w", err)
	}

	return checkAffected(result, persistence.ErrRuleNotFound, id)
}

// RecordExecution bumps the counter atomically in the database, so
// concurrent executions of the same rule never lose an increment.
func (r *RuleRepository) RecordExecution(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE workflow_rules
		SET execution_count = execution_count + 1, last_executed = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to record rule execution: %w", err)
	}

	return checkAffected(result, persistence.ErrRuleNotFound, id)
}

// UpdateSchedule rewrites only the schedule's next-execution time inside
// the trigger document. Counter columns are deliberately untouched so a
// reschedule cannot erase a concurrent RecordExecution increment.
func (r *RuleRepository) UpdateSchedule(ctx context.Context, id string, next time.Time) error {
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal next execution time: %w", err)
	}

	query := `
		UPDATE workflow_rules
		SET trigger = jsonb_set(trigger, '{schedule,next_execution}', $2::jsonb, true)
		WHERE id = $1 AND trigger ? 'schedule'
	`

	result, err := r.db.ExecContext(ctx, query, id, encoded)
	if err != nil {
		return fmt.Errorf("failed to update rule schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		// Distinguish a missing rule from one without a schedule.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.WorkflowRule, error) {
	var (
		rule         models.WorkflowRule
		trigger      []byte
		conditions   []byte
		actions      []byte
		tags         []byte
		category     sql.NullString
		createdBy    sql.NullString
		updatedBy    sql.NullString
		lastExecuted sql.NullTime
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.IsActive,
		&trigger,
		&conditions,
		&actions,
		&rule.Priority,
		&category,
		&tags,
		&createdBy,
		&updatedBy,
		&rule.ExecutionCount,
		&lastExecuted,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if err := json.Unmarshal(trigger, &rule.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	if tags != nil {
		if err := json.Unmarshal(tags, &rule.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	rule.Category = category.String
	rule.CreatedBy = createdBy.String
	rule.UpdatedBy = updatedBy.String

	if lastExecuted.Valid {
		t := lastExecuted.Time
		rule.LastExecuted = &t
	}

	return &rule, nil
}

func orEmptyConditions(conditions []models.Condition) []models.Condition {
	if conditions == nil {
		return []models.Condition{}
	}

	return conditions
}

func checkAffected(result sql.Result, notFound error, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}

	return b
}
