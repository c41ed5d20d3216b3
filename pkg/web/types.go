// Package web provides HTTP request and response types for the rule
// automation API.
package web

import "github.com/deskflowhq/deskflow/pkg/models"

// CreateRuleRequest represents the request body for creating a new rule.
type CreateRuleRequest struct {
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	IsActive    bool               `json:"is_active"`
	Trigger     models.Trigger     `json:"trigger"     validate:"required"`
	Conditions  []models.Condition `json:"conditions"`
	Actions     []models.Action    `json:"actions"     validate:"required,min=1"`
	Priority    int                `json:"priority"    validate:"omitempty,min=1,max=100"`
	Category    string             `json:"category,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	CreatedBy   string             `json:"created_by,omitempty"`
}

// UpdateRuleRequest represents the request body for updating an existing
// rule. All fields are optional to support partial updates.
type UpdateRuleRequest struct {
	Name        *string             `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string             `json:"description,omitempty"`
	Trigger     *models.Trigger     `json:"trigger,omitempty"`
	Conditions  *[]models.Condition `json:"conditions,omitempty"`
	Actions     *[]models.Action    `json:"actions,omitempty"`
	Priority    *int                `json:"priority,omitempty"    validate:"omitempty,min=1,max=100"`
	Category    *string             `json:"category,omitempty"`
	Tags        *[]string           `json:"tags,omitempty"`
	UpdatedBy   string              `json:"updated_by,omitempty"`
}

// ExecuteRuleRequest carries the context payload for a manual firing.
type ExecuteRuleRequest struct {
	Context map[string]any `json:"context"`
}

// PublishEventRequest represents an incoming domain event.
type PublishEventRequest struct {
	Event   string         `json:"event"   validate:"required"`
	Context map[string]any `json:"context"`
}

// ExpandTemplateRequest carries parameter values for template expansion.
type ExpandTemplateRequest struct {
	Values map[string]any `json:"values"`
}

func (r *CreateRuleRequest) toRule() *models.WorkflowRule {
	return &models.WorkflowRule{
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		Trigger:     r.Trigger,
		Conditions:  r.Conditions,
		Actions:     r.Actions,
		Priority:    r.Priority,
		Category:    r.Category,
		Tags:        r.Tags,
		CreatedBy:   r.CreatedBy,
	}
}

func (r *UpdateRuleRequest) apply(rule *models.WorkflowRule) {
	if r.Name != nil {
		rule.Name = *r.Name
	}

	if r.Description != nil {
		rule.Description = *r.Description
	}

	if r.Trigger != nil {
		rule.Trigger = *r.Trigger
	}

	if r.Conditions != nil {
		rule.Conditions = *r.Conditions
	}

	if r.Actions != nil {
		rule.Actions = *r.Actions
	}

	if r.Priority != nil {
		rule.Priority = *r.Priority
	}

	if r.Category != nil {
		rule.Category = *r.Category
	}

	if r.Tags != nil {
		rule.Tags = *r.Tags
	}

	if r.UpdatedBy != "" {
		rule.UpdatedBy = r.UpdatedBy
	}
}
