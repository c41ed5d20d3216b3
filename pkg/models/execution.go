package models

import "time"

// ExecutionStatus is the lifecycle state of one rule firing.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// Terminal reports whether the status is final. Terminal transitions
// happen exactly once per execution.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	case ExecutionPending, ExecutionRunning:
		return false
	default:
		return false
	}
}

// StepStatus is the outcome of one action within an execution.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// WorkflowLog is one engine log line attached to an execution record.
type WorkflowLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// WorkflowStep records one action's final outcome. Retries do not create
// extra steps; RetryCount is the number of retries actually used.
type WorkflowStep struct {
	ActionID   string        `json:"action_id"`
	Name       string        `json:"name"`
	Status     StepStatus    `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// WorkflowExecution is one concrete run of a rule. It references its rule
// by ID only, so rules can be deleted independently of history.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"rule_id"`
	TriggeredBy string          `json:"triggered_by"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Context     map[string]any  `json:"context,omitempty"`
	Steps       []WorkflowStep  `json:"steps"`
	Errors      []string        `json:"errors,omitempty"`
	Logs        []WorkflowLog   `json:"logs"`
	Duration    time.Duration   `json:"duration"`
}

// AppendLog adds a log entry stamped with the current time.
func (e *WorkflowExecution) AppendLog(level LogLevel, message string) {
	e.Logs = append(e.Logs, WorkflowLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
}
