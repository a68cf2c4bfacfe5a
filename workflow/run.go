package workflow

import (
	"context"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateRunning means the workflow is currently executing.
	RunStateRunning RunState = "running"
	// RunStateCompleted means the workflow finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the workflow failed terminally.
	RunStateFailed RunState = "failed"
)

// Run represents a single execution of a workflow. Runs are recorded for
// audit and inspection; they are not resumable.
type Run struct {
	conduct.Entity

	ID            id.RunID   `json:"id"`
	Name          string     `json:"name"`
	State         RunState   `json:"state"`
	CorrelationID string     `json:"correlation_id"`
	Input         []byte     `json:"input,omitempty"`
	Output        []byte     `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State RunState
	// Name filters by workflow name. Empty means all workflows.
	Name string
}

// RunStore defines the persistence contract for workflow run records.
type RunStore interface {
	// CreateRun persists a new workflow run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a workflow run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing workflow run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns workflow runs matching the given options.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)
}
