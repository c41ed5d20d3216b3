// Package templates expands reusable rule skeletons into concrete
// rules. Substitution walks the skeleton's structure directly; the
// skeleton is never serialized wholesale, so values keep their types
// and the skeleton itself is never mutated.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/deskflowhq/deskflow/pkg/rules"
)

// ExpansionError batches every parameter problem so callers can report
// them all at once.
type ExpansionError struct {
	Problems []string
}

func (e *ExpansionError) Error() string {
	return "invalid template parameters: " + strings.Join(e.Problems, "; ")
}

func IsExpansionError(err error) bool {
	var ee *ExpansionError

	return errors.As(err, &ee)
}

type Expander struct {
	persistence persistence.Persistence
	rules       *rules.Service
	logger      *slog.Logger
}

func NewExpander(p persistence.Persistence, ruleService *rules.Service, logger *slog.Logger) *Expander {
	return &Expander{
		persistence: p,
		rules:       ruleService,
		logger:      logger.With("module", "template_expander"),
	}
}

func (e *Expander) Get(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return e.persistence.TemplateByID(ctx, id)
}

func (e *Expander) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return e.persistence.Templates(ctx)
}

func (e *Expander) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	return e.persistence.SaveTemplate(ctx, template)
}

// Expand resolves parameter values against the template's declarations,
// substitutes them into a copy of the skeleton, and creates the
// resulting rule through the rule service.
func (e *Expander) Expand(ctx context.Context, templateID string, values map[string]any) (*models.WorkflowRule, error) {
	template, err := e.persistence.TemplateByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	resolved, err := resolveParameters(template.Parameters, values)
	if err != nil {
		return nil, err
	}

	rule := substituteRule(template.Rule, resolved)

	created, err := e.rules.Create(ctx, &rule)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Template expanded", "template_id", templateID, "rule_id", created.ID)

	return created, nil
}

// resolveParameters applies defaults and type checks every declared
// parameter, collecting all problems before failing.
func resolveParameters(parameters []models.TemplateParameter, values map[string]any) (map[string]any, error) {
	problems := make([]string, 0)
	resolved := make(map[string]any, len(parameters))

	for _, parameter := range parameters {
		value, supplied := values[parameter.Name]

		if !supplied {
			if parameter.Default != nil {
				resolved[parameter.Name] = parameter.Default

				continue
			}

			if parameter.Required {
				problems = append(problems, fmt.Sprintf("parameter %q is required", parameter.Name))
			}

			continue
		}

		if problem := checkParameterValue(parameter, value); problem != "" {
			problems = append(problems, problem)

			continue
		}

		resolved[parameter.Name] = value
	}

	if len(problems) > 0 {
		return nil, &ExpansionError{Problems: problems}
	}

	return resolved, nil
}

func checkParameterValue(parameter models.TemplateParameter, value any) string {
	switch parameter.Type {
	case models.ParameterString:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("parameter %q must be a string", parameter.Name)
		}
	case models.ParameterNumber:
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Sprintf("parameter %q must be a number", parameter.Name)
		}
	case models.ParameterBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("parameter %q must be a boolean", parameter.Name)
		}
	case models.ParameterSelect:
		s, ok := value.(string)
		if !ok || !contains(parameter.Options, s) {
			return fmt.Sprintf("parameter %q must be one of %v", parameter.Name, parameter.Options)
		}
	case models.ParameterMultiSelect:
		selections, ok := stringValues(value)
		if !ok {
			return fmt.Sprintf("parameter %q must be a list of strings", parameter.Name)
		}

		for _, s := range selections {
			if !contains(parameter.Options, s) {
				return fmt.Sprintf("parameter %q has unknown option %q", parameter.Name, s)
			}
		}
	default:
		return fmt.Sprintf("parameter %q has unknown type %q", parameter.Name, parameter.Type)
	}

	return ""
}

// substituteRule deep-copies the skeleton with every {{name}} token
// replaced. Substitution covers the rule's descriptive fields, trigger
// configuration, condition fields and values, and action names and
// configurations.
func substituteRule(skeleton models.WorkflowRule, values map[string]any) models.WorkflowRule {
	rule := skeleton

	rule.Name = substituteString(skeleton.Name, values)
	rule.Description = substituteString(skeleton.Description, values)
	rule.Category = substituteString(skeleton.Category, values)

	rule.Tags = make([]string, len(skeleton.Tags))
	for i, tag := range skeleton.Tags {
		rule.Tags[i] = substituteString(tag, values)
	}

	rule.Trigger = skeleton.Trigger
	rule.Trigger.Event = substituteString(skeleton.Trigger.Event, values)

	if skeleton.Trigger.Schedule != nil {
		schedule := *skeleton.Trigger.Schedule
		schedule.CronExpression = substituteString(schedule.CronExpression, values)
		schedule.Timezone = substituteString(schedule.Timezone, values)
		rule.Trigger.Schedule = &schedule
	}

	if skeleton.Trigger.Configuration != nil {
		rule.Trigger.Configuration = substituteMap(skeleton.Trigger.Configuration, values)
	}

	rule.Conditions = make([]models.Condition, len(skeleton.Conditions))
	for i, condition := range skeleton.Conditions {
		condition.Field = substituteString(condition.Field, values)
		condition.Value = substituteValue(condition.Value, values)
		rule.Conditions[i] = condition
	}

	rule.Actions = make([]models.Action, len(skeleton.Actions))
	for i, action := range skeleton.Actions {
		action.Name = substituteString(action.Name, values)
		action.Configuration = substituteMap(action.Configuration, values)
		rule.Actions[i] = action
	}

	return rule
}

func substituteMap(src map[string]any, values map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))

	for key, value := range src {
		dst[key] = substituteValue(value, values)
	}

	return dst
}

// substituteValue replaces tokens inside strings and descends into
// nested maps and slices. A string that is exactly one token takes the
// parameter's value with its type intact.
func substituteValue(value any, values map[string]any) any {
	switch v := value.(type) {
	case string:
		if name, ok := soleToken(v); ok {
			if replacement, ok := values[name]; ok {
				return replacement
			}

			return v
		}

		return substituteString(v, values)
	case map[string]any:
		return substituteMap(v, values)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			out[i] = substituteValue(item, values)
		}

		return out
	default:
		return value
	}
}

func substituteString(s string, values map[string]any) string {
	for name, value := range values {
		s = strings.ReplaceAll(s, "{{"+name+"}}", stringify(value))
	}

	return s
}

// soleToken reports whether s is exactly one {{name}} token.
func soleToken(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}

	name := s[2 : len(s)-2]
	if name == "" || strings.Contains(name, "{") || strings.Contains(name, "}") {
		return "", false
	}

	return name, true
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", value)
}

func stringValues(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}

			out = append(out, s)
		}

		return out, true
	default:
		return nil, false
	}
}

func contains(options []string, s string) bool {
	for _, option := range options {
		if option == s {
			return true
		}
	}

	return false
}
