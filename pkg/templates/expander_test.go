package templates

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/deskflowhq/deskflow/pkg/persistence/memory"
	"github.com/deskflowhq/deskflow/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExpander() (*Expander, *memory.Persistence) {
	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewExpander(store, rules.NewService(store, logger), logger), store
}

func escalationTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:          "tpl-escalation",
		Name:        "escalate {{category}} tickets",
		Description: "Escalates {{category}} tickets stuck beyond the SLA",
		Category:    "sla",
		Parameters: []models.TemplateParameter{
			{Name: "category", Type: models.ParameterSelect, Required: true, Options: []string{"billing", "outage", "access"}},
			{Name: "threshold", Type: models.ParameterNumber, Default: 4},
			{Name: "assignee", Type: models.ParameterString, Required: true},
			{Name: "notifyManager", Type: models.ParameterBoolean, Default: false},
		},
		Rule: models.WorkflowRule{
			Name:    "escalate {{category}}",
			Trigger: models.Trigger{Kind: models.TriggerEvent, Event: models.EventSLAWarning},
			Conditions: []models.Condition{
				{Kind: models.ConditionField, Field: "category", Operator: models.OperatorEquals, Value: "{{category}}"},
				{Kind: models.ConditionField, Field: "hoursOpen", Operator: models.OperatorGreaterThan, Value: "{{threshold}}"},
			},
			Actions: []models.Action{
				{
					ID:   "a1",
					Kind: models.ActionAssign,
					Name: "assign {{category}} escalations",
					Configuration: map[string]any{
						"assignee": "{{assignee}}",
					},
				},
				{
					ID:   "a2",
					Kind: models.ActionNotify,
					Name: "notify",
					Configuration: map[string]any{
						"template":   "escalation-{{category}}",
						"recipients": []any{"{{assignee}}"},
						"variables": map[string]any{
							"notifyManager": "{{notifyManager}}",
						},
					},
				},
			},
		},
	}
}

func TestExpandSubstitutesThroughoutTheSkeleton(t *testing.T) {
	expander, store := newExpander()
	ctx := context.Background()

	require.NoError(t, store.SaveTemplate(ctx, escalationTemplate()))

	rule, err := expander.Expand(ctx, "tpl-escalation", map[string]any{
		"category": "billing",
		"assignee": "agent-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "escalate billing", rule.Name)
	assert.Equal(t, "billing", rule.Conditions[0].Value)

	// A sole-token substitution keeps the parameter's native type. The
	// store's JSON round trip makes numeric defaults float64.
	assert.Equal(t, float64(4), rule.Conditions[1].Value)
	assert.Equal(t, false, rule.Actions[1].Configuration["variables"].(map[string]any)["notifyManager"])

	assert.Equal(t, "agent-7", rule.Actions[0].Configuration["assignee"])
	assert.Equal(t, "assign billing escalations", rule.Actions[0].Name)
	assert.Equal(t, "escalation-billing", rule.Actions[1].Configuration["template"])
	assert.Equal(t, []any{"agent-7"}, rule.Actions[1].Configuration["recipients"])

	// The expanded rule went through the rule service.
	stored, err := store.RuleByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, stored.Name)
	assert.Equal(t, int64(0), stored.ExecutionCount)
}

func TestExpandLeavesTheStoredTemplateUntouched(t *testing.T) {
	expander, store := newExpander()
	ctx := context.Background()

	require.NoError(t, store.SaveTemplate(ctx, escalationTemplate()))

	_, err := expander.Expand(ctx, "tpl-escalation", map[string]any{
		"category": "outage",
		"assignee": "agent-1",
	})
	require.NoError(t, err)

	template, err := store.TemplateByID(ctx, "tpl-escalation")
	require.NoError(t, err)
	assert.Equal(t, "escalate {{category}}", template.Rule.Name)
	assert.Equal(t, "{{category}}", template.Rule.Conditions[0].Value)
	assert.Equal(t, "{{assignee}}", template.Rule.Actions[0].Configuration["assignee"])
}

func TestExpandCollectsAllParameterProblems(t *testing.T) {
	expander, store := newExpander()
	ctx := context.Background()

	require.NoError(t, store.SaveTemplate(ctx, escalationTemplate()))

	_, err := expander.Expand(ctx, "tpl-escalation", map[string]any{
		"category":  "shipping", // not an allowed option
		"threshold": "soon",     // not a number
	})
	require.Error(t, err)
	require.True(t, IsExpansionError(err))

	var ee *ExpansionError
	require.ErrorAs(t, err, &ee)
	assert.Len(t, ee.Problems, 3) // bad option, bad type, missing assignee
}

func TestExpandAppliesDefaults(t *testing.T) {
	expander, store := newExpander()
	ctx := context.Background()

	require.NoError(t, store.SaveTemplate(ctx, escalationTemplate()))

	rule, err := expander.Expand(ctx, "tpl-escalation", map[string]any{
		"category": "access",
		"assignee": "agent-2",
	})
	require.NoError(t, err)

	assert.Equal(t, float64(4), rule.Conditions[1].Value)
}

func TestExpandMultiSelect(t *testing.T) {
	expander, store := newExpander()
	ctx := context.Background()

	template := &models.WorkflowTemplate{
		ID:   "tpl-channels",
		Name: "notify via channels",
		Parameters: []models.TemplateParameter{
			{Name: "channels", Type: models.ParameterMultiSelect, Required: true, Options: []string{"email", "sms", "chat"}},
		},
		Rule: models.WorkflowRule{
			Name:    "notify on breach",
			Trigger: models.Trigger{Kind: models.TriggerEvent, Event: models.EventSLABreached},
			Actions: []models.Action{
				{
					ID:   "a1",
					Kind: models.ActionNotify,
					Name: "notify",
					Configuration: map[string]any{
						"template":   "sla-breach",
						"channels":   "{{channels}}",
						"recipients": []any{"oncall"},
					},
				},
			},
		},
	}
	require.NoError(t, store.SaveTemplate(ctx, template))

	rule, err := expander.Expand(ctx, "tpl-channels", map[string]any{
		"channels": []any{"email", "chat"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"email", "chat"}, rule.Actions[0].Configuration["channels"])

	_, err = expander.Expand(ctx, "tpl-channels", map[string]any{
		"channels": []any{"email", "pigeon"},
	})
	require.True(t, IsExpansionError(err))
}

func TestExpandUnknownTemplate(t *testing.T) {
	expander, _ := newExpander()

	_, err := expander.Expand(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestExpandInvalidResultingRuleFailsRuleValidation(t *testing.T) {
	expander, store := newExpander()
	ctx := context.Background()

	template := escalationTemplate()
	template.Rule.Actions = nil
	require.NoError(t, store.SaveTemplate(ctx, template))

	_, err := expander.Expand(ctx, template.ID, map[string]any{
		"category": "billing",
		"assignee": "agent-7",
	})
	require.Error(t, err)
	assert.True(t, rules.IsValidationError(err))
}

func TestSoleTokenDetection(t *testing.T) {
	name, ok := soleToken("{{threshold}}")
	assert.True(t, ok)
	assert.Equal(t, "threshold", name)

	_, ok = soleToken("prefix {{threshold}}")
	assert.False(t, ok)

	_, ok = soleToken("{{a}}{{b}}")
	assert.False(t, ok)

	_, ok = soleToken("{{}}")
	assert.False(t, ok)
}
