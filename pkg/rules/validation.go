package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError batches every problem found in a rule so callers can
// report them all at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid rule: " + strings.Join(e.Problems, "; ")
}

func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}

// actionConfigSchemas holds one JSON schema per action kind, applied to
// the action's configuration map.
var actionConfigSchemas = map[models.ActionKind]map[string]any{
	models.ActionAssign: {
		"type":     "object",
		"required": []any{"assignee"},
		"properties": map[string]any{
			"assignee":  map[string]any{"type": "string", "minLength": 1},
			"ticket_id": map[string]any{"type": "string"},
		},
	},
	models.ActionUpdate: {
		"type":     "object",
		"required": []any{"field", "value"},
		"properties": map[string]any{
			"field":     map[string]any{"type": "string", "minLength": 1},
			"ticket_id": map[string]any{"type": "string"},
		},
	},
	models.ActionNotify: {
		"type":     "object",
		"required": []any{"template"},
		"properties": map[string]any{
			"template":   map[string]any{"type": "string", "minLength": 1},
			"channels":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"recipients": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"variables":  map[string]any{"type": "object"},
		},
	},
	models.ActionEscalate: {
		"type": "object",
		"properties": map[string]any{
			"priority":  map[string]any{"type": "string"},
			"ticket_id": map[string]any{"type": "string"},
		},
	},
	models.ActionCreate: {
		"type":     "object",
		"required": []any{"fields"},
		"properties": map[string]any{
			"fields": map[string]any{"type": "object", "minProperties": 1},
		},
	},
	models.ActionClose: {
		"type": "object",
		"properties": map[string]any{
			"comment":   map[string]any{"type": "string"},
			"ticket_id": map[string]any{"type": "string"},
		},
	},
	models.ActionComment: {
		"type":     "object",
		"required": []any{"text"},
		"properties": map[string]any{
			"text":      map[string]any{"type": "string", "minLength": 1},
			"internal":  map[string]any{"type": "boolean"},
			"ticket_id": map[string]any{"type": "string"},
		},
	},
	models.ActionScript: {
		"type":     "object",
		"required": []any{"script"},
		"properties": map[string]any{
			"script":     map[string]any{"type": "string", "minLength": 1},
			"parameters": map[string]any{"type": "object"},
		},
	},
	models.ActionAPICall: {
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":             map[string]any{"type": "string", "minLength": 1},
			"method":          map[string]any{"type": "string"},
			"body":            map[string]any{"type": "string"},
			"headers":         map[string]any{"type": "object"},
			"timeout_seconds": map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
	},
	models.ActionDelay: {
		"type":     "object",
		"required": []any{"seconds"},
		"properties": map[string]any{
			"seconds": map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
	},
}

// validateRule checks struct tags, trigger coherence, and per-action
// configuration schemas. All problems are collected before returning.
func (s *Service) validateRule(rule *models.WorkflowRule) error {
	problems := make([]string, 0)

	if err := s.validator.Struct(rule); err != nil {
		var fieldErrors validator.ValidationErrors

		if errors.As(err, &fieldErrors) {
			for _, fieldError := range fieldErrors {
				problems = append(problems, fmt.Sprintf("field %s failed on %q", fieldError.Namespace(), fieldError.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	problems = append(problems, validateTrigger(rule.Trigger)...)
	problems = append(problems, validateConditions(rule.Conditions)...)

	for i, action := range rule.Actions {
		problems = append(problems, validateActionConfig(i, action)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

func validateTrigger(trigger models.Trigger) []string {
	problems := make([]string, 0)

	switch trigger.Kind {
	case models.TriggerEvent:
		if trigger.Event == "" {
			problems = append(problems, "event trigger requires an event name")
		}
	case models.TriggerSchedule:
		if trigger.Schedule == nil {
			problems = append(problems, "schedule trigger requires a schedule")
		} else if err := trigger.Schedule.Validate(); err != nil {
			problems = append(problems, "schedule: "+err.Error())
		}
	case models.TriggerManual, models.TriggerWebhook, models.TriggerCondition:
	default:
		problems = append(problems, fmt.Sprintf("unknown trigger kind %q", trigger.Kind))
	}

	return problems
}

func validateConditions(conds []models.Condition) []string {
	problems := make([]string, 0)

	for i, cond := range conds {
		prefix := fmt.Sprintf("condition %d", i)

		switch cond.Kind {
		case models.ConditionScript:
			if cond.Field == "" {
				problems = append(problems, prefix+": script condition requires a script name in field")
			}
		case models.ConditionField, models.ConditionTime, models.ConditionUser, models.ConditionCustom:
			if cond.Field == "" {
				problems = append(problems, prefix+": field is required")
			}

			if cond.Operator == "" {
				problems = append(problems, prefix+": operator is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown kind %q", prefix, cond.Kind))
		}

		if cond.LogicalOperator != "" &&
			cond.LogicalOperator != models.LogicalAnd &&
			cond.LogicalOperator != models.LogicalOr {
			problems = append(problems, fmt.Sprintf("%s: unknown logical operator %q", prefix, cond.LogicalOperator))
		}
	}

	return problems
}

func validateActionConfig(index int, action models.Action) []string {
	prefix := fmt.Sprintf("action %d (%s)", index, action.Kind)

	schema, ok := actionConfigSchemas[action.Kind]
	if !ok {
		return []string{fmt.Sprintf("%s: unknown action kind", prefix)}
	}

	config := action.Configuration
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return []string{prefix + ": " + err.Error()}
	}

	problems := make([]string, 0)

	for _, desc := range result.Errors() {
		problems = append(problems, prefix+": "+desc.String())
	}

	return problems
}
