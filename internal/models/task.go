package models

import "time"

// Task is a node of the dependency graph described by the PRD document.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Passes    bool     `json:"passes"`
}

// TimingSource names which telemetry produced a TaskTiming.
type TimingSource string

const (
	TimingSourceTeammate    TimingSource = "teammate"
	TimingSourceProgressLog TimingSource = "progress_log"
	TimingSourceEstimate    TimingSource = "estimate"
)

// TaskTiming is a derived start/end window for one task. A nil EndTime
// means the task is still in progress.
type TaskTiming struct {
	TaskID     string       `json:"taskId"`
	StartTime  time.Time    `json:"startTime"`
	EndTime    *time.Time   `json:"endTime,omitempty"`
	Duration   float64      `json:"duration"` // seconds
	BatchIndex int          `json:"batchIndex"`
	Source     TimingSource `json:"source"`
}

// InProgress reports whether the timing has no end boundary yet.
func (t TaskTiming) InProgress() bool {
	return t.EndTime == nil
}

// ProgressLogEntry is one timestamped heading of the progress log.
type ProgressLogEntry struct {
	TaskIDs   []string
	Timestamp time.Time
}
