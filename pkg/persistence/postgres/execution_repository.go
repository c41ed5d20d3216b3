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

// ExecutionRepository is the append-only execution history. Appends
// upsert by execution ID; listing preserves append order.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{
		db:     db,
		logger: logger.With("module", "execution_repository"),
	}
}

const executionColumns = `
	id, rule_id, triggered_by, status, context, steps, errors, logs,
	start_time, end_time, duration_ns
`

func (r *ExecutionRepository) Append(ctx context.Context, execution *models.WorkflowExecution) error {
	contextDoc, err := json.Marshal(orEmptyMap(execution.Context))
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	steps, err := json.Marshal(orEmptySteps(execution.Steps))
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	logs, err := json.Marshal(orEmptyLogs(execution.Logs))
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	var errorsDoc []byte

	if execution.Errors != nil {
		errorsDoc, err = json.Marshal(execution.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal errors: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			steps = EXCLUDED.steps,
			errors = EXCLUDED.errors,
			logs = EXCLUDED.logs,
			end_time = EXCLUDED.end_time,
			duration_ns = EXCLUDED.duration_ns
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.RuleID,
		execution.TriggeredBy,
		execution.Status,
		contextDoc,
		steps,
		nullBytes(errorsDoc),
		logs,
		execution.StartTime,
		nullTime(execution.EndTime),
		int64(execution.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to append execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
		}

		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, ruleID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	args := make([]any, 0, 1)

	if ruleID != "" {
		query += ` WHERE rule_id = $1`

		args = append(args, ruleID)
	}

	query += ` ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution  models.WorkflowExecution
		contextDoc []byte
		steps      []byte
		errorsDoc  []byte
		logs       []byte
		endTime    sql.NullTime
		durationNS int64
	)

	err := row.Scan(
		&execution.ID,
		&execution.RuleID,
		&execution.TriggeredBy,
		&execution.Status,
		&contextDoc,
		&steps,
		&errorsDoc,
		&logs,
		&execution.StartTime,
		&endTime,
		&durationNS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := json.Unmarshal(contextDoc, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	if err := json.Unmarshal(steps, &execution.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(logs, &execution.Logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}

	if errorsDoc != nil {
		if err := json.Unmarshal(errorsDoc, &execution.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}

	if endTime.Valid {
		t := endTime.Time
		execution.EndTime = &t
	}

	execution.Duration = time.Duration(durationNS)

	return &execution, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

func orEmptySteps(steps []models.WorkflowStep) []models.WorkflowStep {
	if steps == nil {
		return []models.WorkflowStep{}
	}

	return steps
}

func orEmptyLogs(logs []models.WorkflowLog) []models.WorkflowLog {
	if logs == nil {
		return []models.WorkflowLog{}
	}

	return logs
}
