package domain

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrJobNotFound    = errors.New("job not found")
	ErrDuplicateJob   = errors.New("job already registered")
	ErrCancelled      = errors.New("job cancelled")
)

// JobRegistry is the process-wide table of active jobs.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*StreamJob
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*StreamJob)}
}

// Register adds a job. Ids must be unique among registered jobs.
func (r *JobRegistry) Register(job *StreamJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID()]; ok {
		return ErrDuplicateJob
	}
	r.jobs[job.ID()] = job
	return nil
}

// Get looks up a job by id.
func (r *JobRegistry) Get(id string) (*StreamJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Remove drops a job. Unknown ids are ignored.
func (r *JobRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// List returns registered job ids in sorted order.
func (r *JobRegistry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Cancel requests cancellation of a registered job. It returns false if the
// job is unknown or already terminal.
func (r *JobRegistry) Cancel(id string) bool {
	job, err := r.Get(id)
	if err != nil {
		return false
	}
	return job.RequestCancel()
}
