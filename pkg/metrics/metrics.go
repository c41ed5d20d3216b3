// Package metrics derives summary statistics from rules and execution
// history. It is a pure fold over its inputs; nothing here touches
// storage.
package metrics

import (
	"sort"
	"time"

	"github.com/deskflowhq/deskflow/pkg/models"
)

// RuleCount pairs a rule with its execution total for top-N listings.
type RuleCount struct {
	RuleID         string `json:"rule_id"`
	Name           string `json:"name"`
	ExecutionCount int64  `json:"execution_count"`
}

type Summary struct {
	TotalRules    int `json:"total_rules"`
	ActiveRules   int `json:"active_rules"`
	InactiveRules int `json:"inactive_rules"`

	TotalExecutions    int                            `json:"total_executions"`
	ExecutionsByStatus map[models.ExecutionStatus]int `json:"executions_by_status"`
	RulesByTriggerKind map[models.TriggerKind]int     `json:"rules_by_trigger_kind"`

	// SuccessRate is completed over terminal executions, 0 when there is
	// no history.
	SuccessRate float64 `json:"success_rate"`

	// AverageDuration covers terminal executions only.
	AverageDuration time.Duration `json:"average_duration"`

	TopRules []RuleCount `json:"top_rules"`
}

// Aggregate folds rules and executions into a Summary. topN limits the
// most-executed listing; non-positive values mean no listing.
func Aggregate(rules []*models.WorkflowRule, executions []*models.WorkflowExecution, topN int) Summary {
	summary := Summary{
		TotalRules:         len(rules),
		TotalExecutions:    len(executions),
		ExecutionsByStatus: make(map[models.ExecutionStatus]int),
		RulesByTriggerKind: make(map[models.TriggerKind]int),
	}

	for _, rule := range rules {
		if rule.IsActive {
			summary.ActiveRules++
		} else {
			summary.InactiveRules++
		}

		summary.RulesByTriggerKind[rule.Trigger.Kind]++
	}

	terminal := 0
	completed := 0

	var totalDuration time.Duration

	for _, execution := range executions {
		summary.ExecutionsByStatus[execution.Status]++

		if !execution.Status.Terminal() {
			continue
		}

		terminal++
		totalDuration += execution.Duration

		if execution.Status == models.ExecutionCompleted {
			completed++
		}
	}

	if terminal > 0 {
		summary.SuccessRate = float64(completed) / float64(terminal)
		summary.AverageDuration = totalDuration / time.Duration(terminal)
	}

	summary.TopRules = topRules(rules, topN)

	return summary
}

func topRules(rules []*models.WorkflowRule, topN int) []RuleCount {
	if topN <= 0 {
		return nil
	}

	counts := make([]RuleCount, 0, len(rules))

	for _, rule := range rules {
		counts = append(counts, RuleCount{
			RuleID:         rule.ID,
			Name:           rule.Name,
			ExecutionCount: rule.ExecutionCount,
		})
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].ExecutionCount > counts[j].ExecutionCount
	})

	if len(counts) > topN {
		counts = counts[:topN]
	}

	return counts
}
