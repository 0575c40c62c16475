package domain

import (
	"encoding/json"
	"time"
)

const (
	OutcomeResponse  = "response"
	OutcomeException = "exception"
)

// Run is one journaled execution of a scheduled task.
type Run struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	TaskType    string          `json:"task_type"`
	Outcome     string          `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	DelayMs     int64           `json:"delay_ms"`
	ExecutionMs int64           `json:"execution_ms"`
	NextExecute *time.Time      `json:"next_execute,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// TypeStats aggregates the journal per task type.
type TypeStats struct {
	TaskType       string  `json:"task_type"`
	Runs           int     `json:"runs"`
	Responses      int     `json:"responses"`
	Exceptions     int     `json:"exceptions"`
	AvgExecutionMs float64 `json:"avg_execution_ms"`
}

// TaskSpec describes a task that runs a registered handler, as submitted
// over the admin API or listed in the config file.
type TaskSpec struct {
	Handler     string          `json:"handler"`
	Type        string          `json:"type,omitempty"`
	Kind        string          `json:"kind"` // timeout | interval
	Payload     json.RawMessage `json:"payload,omitempty"`
	DelayMs     int64           `json:"delay_ms,omitempty"`
	PlannedTime *time.Time      `json:"planned_time,omitempty"`
	Cron        string          `json:"cron,omitempty"`
	IntervalMs  int64           `json:"interval_ms,omitempty"`
	Triggers    int             `json:"triggers,omitempty"`
	AfterDone   bool            `json:"after_done,omitempty"`
}
