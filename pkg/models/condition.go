package models

// ConditionKind is the closed set of condition categories.
type ConditionKind string

const (
	ConditionField  ConditionKind = "field"
	ConditionScript ConditionKind = "script"
	ConditionTime   ConditionKind = "time"
	ConditionUser   ConditionKind = "user"
	ConditionCustom ConditionKind = "custom"
)

// Operator compares a context value against the condition's target value.
type Operator string

const (
	OperatorEquals         Operator = "equals"
	OperatorNotEquals      Operator = "not_equals"
	OperatorContains       Operator = "contains"
	OperatorNotContains    Operator = "not_contains"
	OperatorGreaterThan    Operator = "greater_than"
	OperatorLessThan       Operator = "less_than"
	OperatorGreaterOrEqual Operator = "greater_or_equal"
	OperatorLessOrEqual    Operator = "less_or_equal"
	OperatorIn             Operator = "in"
	OperatorNotIn          Operator = "not_in"
	OperatorRegex          Operator = "regex"
	OperatorExists         Operator = "exists"
)

// LogicalOperator joins a condition to the NEXT condition in the chain.
// Evaluation is a left-to-right fold with no operator precedence:
// [A or, B and, C] reads ((A or B) and C).
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition is one predicate in a rule's condition chain. Field holds a
// dotted context path (e.g. "sla.timeRemaining"); Value may be a relative
// time literal such as "now-7d" for the ordering operators.
type Condition struct {
	Kind            ConditionKind   `json:"kind"                       validate:"required,oneof=field script time user custom"`
	Field           string          `json:"field,omitempty"`
	Operator        Operator        `json:"operator"                   validate:"required"`
	Value           any             `json:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty" validate:"omitempty,oneof=AND OR"`
}
