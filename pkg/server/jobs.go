package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// JobStatus is the lifecycle state of a background job
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRunner runs at most one background job at a time and retains the
// last result for polling. Query and mutation batches against upstream
// run through one of these so the HTTP handler can return immediately.
type JobRunner struct {
	name string

	mu          sync.Mutex
	status      JobStatus
	startedAt   time.Time
	completedAt time.Time
	result      interface{}
	errMsg      string
}

// JobSnapshot is the poll view of a job
type JobSnapshot struct {
	Name        string      `json:"name"`
	Status      JobStatus   `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// NewJobRunner creates a named job runner
func NewJobRunner(name string) *JobRunner {
	return &JobRunner{name: name, status: JobStatusIdle}
}

// Start launches fn in the background. Returns an error when a run is
// already in progress.
func (j *JobRunner) Start(fn func(ctx context.Context) (interface{}, error)) error {
	j.mu.Lock()
	if j.status == JobStatusRunning {
		j.mu.Unlock()
		return fmt.Errorf("job %s is already running", j.name)
	}
	j.status = JobStatusRunning
	j.startedAt = time.Now()
	j.completedAt = time.Time{}
	j.result = nil
	j.errMsg = ""
	j.mu.Unlock()

	go func() {
		defer logger.CatchPanic("JobRunner." + j.name)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := fn(ctx)

		j.mu.Lock()
		defer j.mu.Unlock()
		j.completedAt = time.Now()
		j.result = result
		if err != nil {
			j.status = JobStatusFailed
			j.errMsg = err.Error()
			logger.Error("Job %s failed: %v", j.name, err)
			return
		}
		j.status = JobStatusCompleted
		logger.Info("Job %s completed in %v", j.name, j.completedAt.Sub(j.startedAt))
	}()

	return nil
}

// Snapshot returns the current job state
func (j *JobRunner) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := JobSnapshot{
		Name:   j.name,
		Status: j.status,
		Result: j.result,
		Error:  j.errMsg,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		snap.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
