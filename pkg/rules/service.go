// Package rules manages the rule store: CRUD, validation, and
// activation state.
package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Service struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewService(p persistence.Persistence, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		validator:   validator.New(),
		logger:      logger.With("module", "rule_service"),
	}
}

// Create validates and stores a new rule. The ID, timestamps, and
// execution counters are owned by the service; anything the caller put
// there is overwritten.
func (s *Service) Create(ctx context.Context, rule *models.WorkflowRule) (*models.WorkflowRule, error) {
	rule.ID = "rule-" + uuid.New().String()

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.ExecutionCount = 0
	rule.LastExecuted = nil

	if rule.Priority == 0 {
		rule.Priority = 50
	}

	if err := s.validateRule(rule); err != nil {
		return nil, err
	}

	if err := s.persistence.SaveRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Rule created", "rule_id", rule.ID, "name", rule.Name)

	return rule, nil
}

// Update replaces the editable fields of an existing rule. Execution
// statistics and creation metadata are preserved from the stored copy.
func (s *Service) Update(ctx context.Context, id string, updated *models.WorkflowRule) (*models.WorkflowRule, error) {
	existing, err := s.persistence.RuleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.ExecutionCount = existing.ExecutionCount
	updated.LastExecuted = existing.LastExecuted
	updated.UpdatedAt = time.Now().UTC()

	if updated.Priority == 0 {
		updated.Priority = existing.Priority
	}

	if err := s.validateRule(updated); err != nil {
		return nil, err
	}

	if err := s.persistence.SaveRule(ctx, updated); err != nil {
		return nil, err
	}

	s.logger.Info("Rule updated", "rule_id", id)

	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.WorkflowRule, error) {
	return s.persistence.RuleByID(ctx, id)
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Category string
	Tag      string
	Active   *bool
}

func (f ListFilter) matches(rule *models.WorkflowRule) bool {
	if f.Category != "" && rule.Category != f.Category {
		return false
	}

	if f.Active != nil && rule.IsActive != *f.Active {
		return false
	}

	if f.Tag != "" {
		found := false

		for _, tag := range rule.Tags {
			if tag == f.Tag {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*models.WorkflowRule, error) {
	all, err := s.persistence.Rules(ctx)
	if err != nil {
		return nil, err
	}

	if filter == (ListFilter{}) {
		return all, nil
	}

	matched := make([]*models.WorkflowRule, 0, len(all))

	for _, rule := range all {
		if filter.matches(rule) {
			matched = append(matched, rule)
		}
	}

	return matched, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.persistence.DeleteRule(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Rule deleted", "rule_id", id)

	return nil
}

// SetActive flips activation. Deactivating a rule does not touch
// in-flight executions here; the caller cancels them through the
// engine when that is wanted.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowRule, error) {
	if err := s.persistence.SetRuleActive(ctx, id, active); err != nil {
		return nil, err
	}

	s.logger.Info("Rule activation changed", "rule_id", id, "active", active)

	return s.persistence.RuleByID(ctx, id)
}
