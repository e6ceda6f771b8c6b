package pipeline

import (
	"fmt"
	"time"

	"comfyforge/internal/providers"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a finished state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepReport summarizes one executed step.
type StepReport struct {
	Index     int                  `json:"index"`
	Step      string               `json:"step"`
	Provider  string               `json:"provider"`
	Model     string               `json:"model"`
	KeyID     int64                `json:"key_id,omitempty"`
	Output    string               `json:"output_var"`
	Kind      providers.ResultKind `json:"kind,omitempty"`
	LatencyMs float64              `json:"latency_ms"`
	Error     string               `json:"error,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	Status     Status            `json:"status"`
	Outputs    map[string]string `json:"outputs"`
	Lineage    []int64           `json:"lineage"`
	Steps      []StepReport      `json:"steps,omitempty"`
	FailedStep *int              `json:"failed_step,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`

	// Err is the failure cause; it is not serialized.
	Err error `json:"-"`
}

// StepError identifies the step that aborted a run.
type StepError struct {
	Index    int
	Step     string
	Provider string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s, provider %s): %v", e.Index, e.Step, e.Provider, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
