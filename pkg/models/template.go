package models

import "time"

// ParameterType is the closed set of template parameter types.
type ParameterType string

const (
	ParameterString      ParameterType = "string"
	ParameterNumber      ParameterType = "number"
	ParameterBoolean     ParameterType = "boolean"
	ParameterSelect      ParameterType = "select"
	ParameterMultiSelect ParameterType = "multiselect"
)

// TemplateParameter is one named, typed placeholder of a template.
type TemplateParameter struct {
	Name        string        `json:"name"        validate:"required"`
	Type        ParameterType `json:"type"        validate:"required,oneof=string number boolean select multiselect"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Default     any           `json:"default,omitempty"`
	Options     []string      `json:"options,omitempty"`
}

// WorkflowTemplate is a reusable rule skeleton. Expansion substitutes
// {{name}} tokens throughout the skeleton and hands the result to the
// rule store; the skeleton's identity and audit fields are ignored.
type WorkflowTemplate struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"        validate:"required,min=3"`
	Description string              `json:"description"`
	Category    string              `json:"category,omitempty"`
	Parameters  []TemplateParameter `json:"parameters"  validate:"dive"`
	Rule        WorkflowRule        `json:"rule"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
