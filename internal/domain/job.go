package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// JobState represents the lifecycle state of a stream job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further attempts or transitions can happen.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Outcome is the result of a single attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// AttemptResult records one finished transcode-and-publish run.
type AttemptResult struct {
	Index       int       `json:"index"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// StreamJob is the live instance of a request. State and attempts are only
// mutated by the supervisor loop that owns the job; the cancellation flag is
// the one field written from outside.
type StreamJob struct {
	Request   StreamJobRequest
	CreatedAt time.Time

	cancelRequested atomic.Bool

	mu         sync.Mutex
	state      JobState
	attempts   []AttemptResult
	progress   string
	finishedAt time.Time
}

// NewStreamJob creates a pending job owning a copy of req.
func NewStreamJob(req StreamJobRequest) *StreamJob {
	return &StreamJob{
		Request:   req,
		CreatedAt: time.Now(),
		state:     StatePending,
	}
}

// ID returns the job id.
func (j *StreamJob) ID() string {
	return j.Request.JobID
}

// State returns the current state.
func (j *StreamJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// RequestCancel sets the cancellation flag. It returns false if the job has
// already reached a terminal state. Repeated calls are harmless.
func (j *StreamJob) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.cancelRequested.Store(true)
	return true
}

// CancelRequested reports whether cancellation has been requested.
func (j *StreamJob) CancelRequested() bool {
	return j.cancelRequested.Load()
}

// MarkRunning moves a non-terminal job to running.
func (j *StreamJob) MarkRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		j.state = StateRunning
	}
}

// AddAttempt appends a finished attempt. Attempts beyond the repeat count or
// after a terminal state are dropped and reported as false.
func (j *StreamJob) AddAttempt(a AttemptResult) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || len(j.attempts) >= j.Request.RepeatCount {
		return false
	}
	j.attempts = append(j.attempts, a)
	return true
}

// SetProgress stores the latest informational progress line.
func (j *StreamJob) SetProgress(line string) {
	j.mu.Lock()
	j.progress = line
	j.mu.Unlock()
}

// Finish moves the job into a terminal state derived from its attempts and
// cancellation flag, and returns that state. Calling it again is a no-op
// that returns the existing terminal state.
func (j *StreamJob) Finish() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return j.state
	}
	switch {
	case len(j.attempts) > 0 && j.attempts[len(j.attempts)-1].Outcome == OutcomeFailed:
		j.state = StateFailed
	case len(j.attempts) == j.Request.RepeatCount:
		j.state = StateCompleted
	default:
		j.state = StateCancelled
	}
	j.finishedAt = time.Now()
	return j.state
}

// Attempts returns a copy of the recorded attempts.
func (j *StreamJob) Attempts() []AttemptResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]AttemptResult(nil), j.attempts...)
}

// JobSnapshot is a point-in-time copy of a job, safe to hand to other goroutines.
type JobSnapshot struct {
	ID              string           `json:"id"`
	Request         StreamJobRequest `json:"request"`
	State           JobState         `json:"state"`
	Attempts        []AttemptResult  `json:"attempts"`
	CancelRequested bool             `json:"cancel_requested"`
	Progress        string           `json:"progress,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

// Snapshot copies the job's current state.
func (j *StreamJob) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := JobSnapshot{
		ID:              j.Request.JobID,
		Request:         j.Request,
		State:           j.state,
		Attempts:        append([]AttemptResult{}, j.attempts...),
		CancelRequested: j.cancelRequested.Load(),
		Progress:        j.progress,
		CreatedAt:       j.CreatedAt,
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}
