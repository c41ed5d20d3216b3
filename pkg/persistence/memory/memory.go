// Package memory provides the in-memory persistence implementation used
// by default and in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
)

// Persistence keeps rules, executions, and templates in process memory.
// All returned objects are detached copies, so concurrent executions can
// read rules while the store mutates them.
type Persistence struct {
	mu         sync.RWMutex
	rules      map[string]*models.WorkflowRule
	executions []*models.WorkflowExecution
	execByID   map[string]*models.WorkflowExecution
	templates  map[string]*models.WorkflowTemplate
}

func NewPersistence() *Persistence {
	return &Persistence{
		rules:      make(map[string]*models.WorkflowRule),
		executions: make([]*models.WorkflowExecution, 0),
		execByID:   make(map[string]*models.WorkflowExecution),
		templates:  make(map[string]*models.WorkflowTemplate),
	}
}

func (p *Persistence) Rules(ctx context.Context) ([]*models.WorkflowRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rules := make([]*models.WorkflowRule, 0, len(p.rules))

	for _, rule := range p.rules {
		copied, err := cloneRule(rule)
		if err != nil {
			return nil, err
		}

		rules = append(rules, copied)
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})

	return rules, nil
}

func (p *Persistence) RuleByID(ctx context.Context, id string) (*models.WorkflowRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rule, ok := p.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrRuleNotFound, id)
	}

	return cloneRule(rule)
}

func (p *Persistence) SaveRule(ctx context.Context, rule *models.WorkflowRule) error {
	copied, err := cloneRule(rule)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.rules[copied.ID] = copied

	return nil
}

func (p *Persistence) DeleteRule(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.rules[id]; !ok {
		return fmt.Errorf("%w: %s", persistence.ErrRuleNotFound, id)
	}

	delete(p.rules, id)

	return nil
}

func (p *Persistence) SetRuleActive(ctx context.Context, id string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rule, ok := p.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", persistence.ErrRuleNotFound, id)
	}

	rule.IsActive = active
	rule.UpdatedAt = time.Now().UTC()

	return nil
}

func (p *Persistence) RecordRuleExecution(ctx context.Context, id string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rule, ok := p.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", persistence.ErrRuleNotFound, id)
	}

	rule.ExecutionCount++
	rule.LastExecuted = &at

	return nil
}

func (p *Persistence) UpdateRuleSchedule(ctx context.Context, id string, next time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rule, ok := p.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", persistence.ErrRuleNotFound, id)
	}

	if rule.Trigger.Schedule == nil {
		return nil
	}

	at := next
	rule.Trigger.Schedule.NextExecution = &at

	return nil
}

func (p *Persistence) AppendExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	copied, err := cloneExecution(execution)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.execByID[copied.ID]; !ok {
		p.executions = append(p.executions, copied)
	} else {
		for i, existing := range p.executions {
			if existing.ID == copied.ID {
				p.executions[i] = copied

				break
			}
		}
	}

	p.execByID[copied.ID] = copied

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.execByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
	}

	return cloneExecution(execution)
}

func (p *Persistence) Executions(ctx context.Context, ruleID string) ([]*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0, len(p.executions))

	for _, execution := range p.executions {
		if ruleID != "" && execution.RuleID != ruleID {
			continue
		}

		copied, err := cloneExecution(execution)
		if err != nil {
			return nil, err
		}

		executions = append(executions, copied)
	}

	return executions, nil
}

func (p *Persistence) Templates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	templates := make([]*models.WorkflowTemplate, 0, len(p.templates))

	for _, template := range p.templates {
		copied, err := cloneTemplate(template)
		if err != nil {
			return nil, err
		}

		templates = append(templates, copied)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

func (p *Persistence) TemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	template, ok := p.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
	}

	return cloneTemplate(template)
}

func (p *Persistence) SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	copied, err := cloneTemplate(template)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.templates[copied.ID] = copied

	return nil
}

func (p *Persistence) DeleteTemplate(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.templates[id]; !ok {
		return fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
	}

	delete(p.templates, id)

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

// Copies go through JSON so stored objects never share maps or slices
// with caller-held ones.
func cloneRule(rule *models.WorkflowRule) (*models.WorkflowRule, error) {
	copied := &models.WorkflowRule{}
	if err := roundTrip(rule, copied); err != nil {
		return nil, fmt.Errorf("failed to copy rule %s: %w", rule.ID, err)
	}

	return copied, nil
}

func cloneExecution(execution *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	copied := &models.WorkflowExecution{}
	if err := roundTrip(execution, copied); err != nil {
		return nil, fmt.Errorf("failed to copy execution %s: %w", execution.ID, err)
	}

	return copied, nil
}

func cloneTemplate(template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	copied := &models.WorkflowTemplate{}
	if err := roundTrip(template, copied); err != nil {
		return nil, fmt.Errorf("failed to copy template %s: %w", template.ID, err)
	}

	return copied, nil
}

func roundTrip(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, dst)
}
