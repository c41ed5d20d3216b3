package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout}
	for _, status := range terminal {
		assert.True(t, status.Terminal(), string(status))
	}

	for _, status := range []ExecutionStatus{ExecutionPending, ExecutionRunning} {
		assert.False(t, status.Terminal(), string(status))
	}
}

func TestWorkflowExecution_AppendLog(t *testing.T) {
	execution := &WorkflowExecution{ID: "exec-1", RuleID: "rule-1"}

	execution.AppendLog(LogInfo, "execution started")
	execution.AppendLog(LogError, "action failed")

	assert.Len(t, execution.Logs, 2)
	assert.Equal(t, LogInfo, execution.Logs[0].Level)
	assert.Equal(t, "execution started", execution.Logs[0].Message)
	assert.Equal(t, LogError, execution.Logs[1].Level)
	assert.False(t, execution.Logs[0].Timestamp.IsZero())
}
