package model

import "time"

// RunStatus represents the current state of a sync run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the outcome of a pipeline step.
type StepStatus string

const (
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// Run is a single execution of the sync pipeline.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	DryRun    bool       `json:"dry_run"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Fetched   map[string]int `json:"fetched"`
	Processed int            `json:"processed"`
	Inserted  int            `json:"inserted"`
	Updated   int            `json:"updated"`
	Errors    int            `json:"errors"`
	Success   bool           `json:"success"`
	Steps     []StepResult   `json:"steps"`
	Error     string         `json:"error,omitempty"`
}

// StepResult holds the outcome of one pipeline step.
type StepResult struct {
	Name     string         `json:"name"`
	Status   StepStatus     `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}

// DeadLetter is a record that failed to reach the sink after all attempts.
type DeadLetter struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	CustomerID int64     `json:"customer_id"`
	Payload    []byte    `json:"payload"`
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}
