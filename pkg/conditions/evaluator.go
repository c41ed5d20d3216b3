// Package conditions evaluates a rule's condition chain against an
// execution context.
package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/protocol"
)

// Evaluator folds a condition chain left to right. Each condition's
// LogicalOperator joins it to the next one; there is no operator
// precedence beyond sequential combination. Evaluation errors on a
// single condition count as no match and are reported as warn logs,
// never as engine failures.
type Evaluator struct {
	scripts protocol.ScriptRunner
	logger  *slog.Logger
}

// NewEvaluator creates an evaluator. The script runner may be nil, in
// which case script conditions evaluate to no match with a warning.
func NewEvaluator(scripts protocol.ScriptRunner, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		scripts: scripts,
		logger:  logger.With("module", "condition_evaluator"),
	}
}

// Match evaluates the chain against the context. An empty chain always
// matches, so unconditional rules fire on every trigger. Relative time
// literals are resolved against startedAt, the execution's start time.
func (e *Evaluator) Match(ctx context.Context, conds []models.Condition, execCtx map[string]any, startedAt time.Time) (bool, []models.WorkflowLog) {
	if len(conds) == 0 {
		return true, nil
	}

	var logs []models.WorkflowLog

	warn := func(index int, cond models.Condition, err error) {
		message := fmt.Sprintf("condition %d (%s %s) evaluation failed, treated as no match: %v",
			index, cond.Field, cond.Operator, err)
		e.logger.Warn("Condition evaluation failed", "index", index, "field", cond.Field, "error", err)
		logs = append(logs, models.WorkflowLog{
			Timestamp: time.Now().UTC(),
			Level:     models.LogWarn,
			Message:   message,
		})
	}

	result, err := e.evalOne(ctx, conds[0], execCtx, startedAt)
	if err != nil {
		warn(0, conds[0], err)

		result = false
	}

	pureAndPrefix := true

	for i := 1; i < len(conds); i++ {
		join := conds[i-1].LogicalOperator
		if join == "" {
			join = models.LogicalAnd
		}

		if join == models.LogicalOr {
			pureAndPrefix = false
		}

		// A false running value stops evaluation early only while the
		// chain so far is pure AND and no OR remains ahead. Once an OR
		// has joined, every later condition is still evaluated so its
		// side effects and warnings are not suppressed.
		if pureAndPrefix && !result && !orAhead(conds, i) {
			break
		}

		next, err := e.evalOne(ctx, conds[i], execCtx, startedAt)
		if err != nil {
			warn(i, conds[i], err)

			next = false
		}

		if join == models.LogicalOr {
			result = result || next
		} else {
			result = result && next
		}
	}

	return result, logs
}

// orAhead reports whether any join from position from onward is an OR.
func orAhead(conds []models.Condition, from int) bool {
	for i := from; i < len(conds)-1; i++ {
		if conds[i].LogicalOperator == models.LogicalOr {
			return true
		}
	}

	return false
}

func (e *Evaluator) evalOne(ctx context.Context, cond models.Condition, execCtx map[string]any, startedAt time.Time) (bool, error) {
	switch cond.Kind {
	case models.ConditionScript:
		return e.evalScript(ctx, cond, execCtx)
	case models.ConditionUser:
		field := cond.Field
		if !strings.HasPrefix(field, "user.") {
			field = "user." + field
		}

		return evalOperator(cond.Operator, field, cond.Value, execCtx, startedAt)
	case models.ConditionTime:
		return evalOperator(cond.Operator, cond.Field, cond.Value, execCtx, startedAt)
	case models.ConditionField, models.ConditionCustom:
		return evalOperator(cond.Operator, cond.Field, cond.Value, execCtx, startedAt)
	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

func (e *Evaluator) evalScript(ctx context.Context, cond models.Condition, execCtx map[string]any) (bool, error) {
	if e.scripts == nil {
		return false, fmt.Errorf("script condition %q requires a script runner", cond.Field)
	}

	result, err := e.scripts.Run(ctx, cond.Field, map[string]any{
		"value":   cond.Value,
		"context": execCtx,
	})
	if err != nil {
		return false, fmt.Errorf("script condition %q failed: %w", cond.Field, err)
	}

	return truthy(result)
}

func evalOperator(op models.Operator, field string, expected any, execCtx map[string]any, startedAt time.Time) (bool, error) {
	actual, found := Lookup(execCtx, field)

	if op == models.OperatorExists {
		return found, nil
	}

	if !found {
		return false, fmt.Errorf("field %q not present in context", field)
	}

	switch op {
	case models.OperatorEquals:
		return equalValues(actual, expected), nil
	case models.OperatorNotEquals:
		return !equalValues(actual, expected), nil
	case models.OperatorContains:
		return strings.Contains(stringify(actual), stringify(expected)), nil
	case models.OperatorNotContains:
		return !strings.Contains(stringify(actual), stringify(expected)), nil
	case models.OperatorGreaterThan:
		cmp, err := compareOrdered(actual, expected, startedAt)

		return cmp > 0, err
	case models.OperatorLessThan:
		cmp, err := compareOrdered(actual, expected, startedAt)

		return cmp < 0, err
	case models.OperatorGreaterOrEqual:
		cmp, err := compareOrdered(actual, expected, startedAt)

		return cmp >= 0, err
	case models.OperatorLessOrEqual:
		cmp, err := compareOrdered(actual, expected, startedAt)

		return cmp <= 0, err
	case models.OperatorIn:
		return member(actual, expected), nil
	case models.OperatorNotIn:
		return !member(actual, expected), nil
	case models.OperatorRegex:
		pattern, err := regexp.Compile(stringify(expected))
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", stringify(expected), err)
		}

		return pattern.MatchString(stringify(actual)), nil
	case models.OperatorExists:
		return found, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// Lookup resolves a dotted path against the context map. A flat key
// containing dots wins over nested traversal.
func Lookup(execCtx map[string]any, path string) (any, bool) {
	if value, ok := execCtx[path]; ok {
		return value, true
	}

	current := any(execCtx)

	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

var relativeTimePattern = regexp.MustCompile(`^now([+-])(\d+)([smhdw])$`)

// asTime resolves a value to a point in time. Relative literals such as
// "now-7d" and "now+30m" are anchored at the execution's start time.
func asTime(value any, startedAt time.Time) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if v == "now" {
			return startedAt, true
		}

		if match := relativeTimePattern.FindStringSubmatch(v); match != nil {
			amount, _ := strconv.Atoi(match[2])

			var unit time.Duration

			switch match[3] {
			case "s":
				unit = time.Second
			case "m":
				unit = time.Minute
			case "h":
				unit = time.Hour
			case "d":
				unit = 24 * time.Hour
			case "w":
				unit = 7 * 24 * time.Hour
			}

			offset := time.Duration(amount) * unit
			if match[1] == "-" {
				offset = -offset
			}

			return startedAt.Add(offset), true
		}

		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed, true
		}
	}

	return time.Time{}, false
}

func compareOrdered(actual, expected any, startedAt time.Time) (int, error) {
	if at, ok := asTime(actual, startedAt); ok {
		if et, ok := asTime(expected, startedAt); ok {
			return at.Compare(et), nil
		}
	}

	left, lerr := toFloat(actual)
	right, rerr := toFloat(expected)

	if lerr != nil || rerr != nil {
		return 0, fmt.Errorf("cannot order %v against %v", actual, expected)
	}

	switch {
	case left < right:
		return -1, nil
	case left > right:
		return 1, nil
	default:
		return 0, nil
	}
}

func equalValues(actual, expected any) bool {
	left, lerr := toFloat(actual)
	right, rerr := toFloat(expected)

	if lerr == nil && rerr == nil {
		return left == right
	}

	return stringify(actual) == stringify(expected)
}

func member(actual, expected any) bool {
	needle := stringify(actual)

	switch haystack := expected.(type) {
	case []any:
		for _, item := range haystack {
			if stringify(item) == needle {
				return true
			}
		}
	case []string:
		for _, item := range haystack {
			if item == needle {
				return true
			}
		}
	case string:
		for _, item := range strings.Split(haystack, ",") {
			if strings.TrimSpace(item) == needle {
				return true
			}
		}
	}

	return false
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truthy(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}
