package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
)

type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger.With("module", "template_repository"),
	}
}

const templateColumns = `id, name, description, category, parameters, rule, created_at, updated_at`

func (r *TemplateRepository) GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = $1`

	template, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
		}

		return nil, err
	}

	return template, nil
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	parameters, err := json.Marshal(orEmptyParameters(template.Parameters))
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	rule, err := json.Marshal(template.Rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule skeleton: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			parameters = EXCLUDED.parameters,
			rule = EXCLUDED.rule,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.Name,
		template.Description,
		nullString(template.Category),
		parameters,
		rule,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	return checkAffected(result, persistence.ErrTemplateNotFound, id)
}

func scanTemplate(row rowScanner) (*models.WorkflowTemplate, error) {
	var (
		template   models.WorkflowTemplate
		category   sql.NullString
		parameters []byte
		rule       []byte
	)

	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&category,
		&parameters,
		&rule,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	if err := json.Unmarshal(parameters, &template.Parameters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}

	if err := json.Unmarshal(rule, &template.Rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule skeleton: %w", err)
	}

	template.Category = category.String

	return &template, nil
}

func orEmptyParameters(parameters []models.TemplateParameter) []models.TemplateParameter {
	if parameters == nil {
		return []models.TemplateParameter{}
	}

	return parameters
}
