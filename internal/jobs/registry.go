// Package jobs tracks fire-and-forget background work so API callers can
// poll for completion instead of blocking on slow pipelines.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of a tracked job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// defaultRetention is how long terminal jobs stay queryable.
const defaultRetention = time.Hour

// Job is one tracked unit of background work.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     Status    `json:"status"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Registry is an in-memory job tracker. Terminal jobs are evicted after the
// retention window on the next write.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

// NewRegistry creates a registry. retention <= 0 uses the one-hour default.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Registry{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start registers a new running job and returns its ID.
func (r *Registry) Start(kind string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	id := uuid.NewString()
	r.jobs[id] = &Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: r.now(),
	}
	return id
}

// Complete marks a job successful with an optional result payload.
func (r *Registry) Complete(id string, result any) error {
	return r.finish(id, StatusCompleted, result, "")
}

// Fail marks a job failed with its error message.
func (r *Registry) Fail(id string, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return r.finish(id, StatusFailed, nil, msg)
}

func (r *Registry) finish(id string, status Status, result any, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return eris.Errorf("jobs: unknown job: %s", id)
	}
	if job.Status != StatusRunning {
		return eris.Errorf("jobs: job %s already %s", id, job.Status)
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.FinishedAt = r.now()
	return nil
}

// Get returns a copy of the job, or nil when unknown or evicted.
func (r *Registry) Get(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// List returns copies of all tracked jobs, unordered.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	return out
}

// evictLocked drops terminal jobs past the retention window. Caller holds mu.
func (r *Registry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, job := range r.jobs {
		if job.Status != StatusRunning && job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}
