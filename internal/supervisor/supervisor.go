package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
)

var ErrShuttingDown = errors.New("supervisor is shutting down")

// Options configures a Supervisor.
type Options struct {
	// Retention keeps finished jobs in the registry for inspection. Zero
	// removes them right after the finished notification.
	Retention time.Duration
}

// Supervisor runs stream jobs, one independent loop per job.
type Supervisor struct {
	registry  *domain.JobRegistry
	runner    *Runner
	sink      domain.NotificationSink
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[string]*time.Timer
}

// New creates a supervisor. A nil sink discards notifications.
func New(registry *domain.JobRegistry, enc domain.Encoder, sink domain.NotificationSink, opts Options) *Supervisor {
	if sink == nil {
		sink = domain.SinkFunc(func(context.Context, domain.Notification) error { return nil })
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry:  registry,
		runner:    NewRunner(enc),
		sink:      sink,
		retention: opts.Retention,
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[string]*time.Timer),
	}
}

// Start registers a job for req and runs it in the background. It returns
// the job id without waiting for any attempt.
func (s *Supervisor) Start(req domain.StreamJobRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShuttingDown
	}

	job := domain.NewStreamJob(req)
	if err := s.registry.Register(job); err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job)
	}()
	return job.ID(), nil
}

// Cancel requests cancellation of a job. The attempt in flight, if any, runs
// to completion; no further attempt starts. It returns false if the job is
// unknown or already terminal.
func (s *Supervisor) Cancel(id string) bool {
	ok := s.registry.Cancel(id)
	if ok {
		log.Printf("job %s: cancellation requested", id)
	}
	return ok
}

// Get returns a snapshot of a registered job.
func (s *Supervisor) Get(id string) (domain.JobSnapshot, error) {
	job, err := s.registry.Get(id)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// List returns snapshots of all registered jobs ordered by id.
func (s *Supervisor) List() []domain.JobSnapshot {
	ids := s.registry.List()
	out := make([]domain.JobSnapshot, 0, len(ids))
	for _, id := range ids {
		if job, err := s.registry.Get(id); err == nil {
			out = append(out, job.Snapshot())
		}
	}
	return out
}

// Wait blocks until every started job has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting jobs and cancels the active ones. Running
// attempts are given until ctx is done to finish; after that their encoder
// processes are killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for _, id := range s.registry.List() {
		s.registry.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		log.Printf("shutdown deadline reached, killing running encoders")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Supervisor) run(job *domain.StreamJob) {
	req := job.Request
	total := req.RepeatCount

	s.notify(domain.Notification{
		JobID:          job.ID(),
		Chat:           req.Chat,
		Kind:           domain.EventAccepted,
		Total:          total,
		DestinationURL: req.DestinationURL,
		SourcePath:     req.SourcePath,
	})
	job.MarkRunning()
	log.Printf("job %s: streaming %s to %s, %d attempt(s)", job.ID(), req.SourcePath, req.DestinationURL, total)

	for i := 1; i <= total; i++ {
		if job.CancelRequested() {
			log.Printf("job %s: cancelled before attempt %d/%d", job.ID(), i, total)
			break
		}

		res, err := s.runner.Run(s.ctx, job, i, func(command string) {
			s.notify(domain.Notification{
				JobID:    job.ID(),
				Chat:     req.Chat,
				Kind:     domain.EventAttemptStarted,
				Index:    i,
				Total:    total,
				Attempts: i - 1,
				Command:  command,
			})
		})
		if errors.Is(err, domain.ErrCancelled) {
			log.Printf("job %s: attempt %d/%d not run: cancelled", job.ID(), i, total)
			break
		}

		job.AddAttempt(res)
		if res.Outcome == domain.OutcomeFailed {
			log.Printf("job %s: attempt %d/%d failed: %s", job.ID(), i, total, res.ErrorDetail)
			s.notify(domain.Notification{
				JobID:    job.ID(),
				Chat:     req.Chat,
				Kind:     domain.EventAttemptFailed,
				Index:    i,
				Total:    total,
				Reason:   res.ErrorDetail,
				Attempts: i,
			})
			break
		}

		log.Printf("job %s: attempt %d/%d finished", job.ID(), i, total)
		s.notify(domain.Notification{
			JobID:    job.ID(),
			Chat:     req.Chat,
			Kind:     domain.EventAttemptSucceeded,
			Index:    i,
			Total:    total,
			Attempts: i,
		})
	}

	state := job.Finish()
	attempts := job.Attempts()
	var reason string
	if state == domain.StateFailed {
		reason = attempts[len(attempts)-1].ErrorDetail
	}
	log.Printf("job %s: %s after %d attempt(s)", job.ID(), state, len(attempts))
	s.notify(domain.Notification{
		JobID:      job.ID(),
		Chat:       req.Chat,
		Kind:       domain.EventFinished,
		Total:      total,
		Reason:     reason,
		FinalState: state,
		Attempts:   len(attempts),
	})
	s.release(job.ID())
}

// notify delivers n to the sink. Sink failures are logged and never
// reach job state.
func (s *Supervisor) notify(n domain.Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("job %s: notification sink panicked on %s: %v", n.JobID, n.Kind, r)
		}
	}()
	if err := s.sink.Notify(context.WithoutCancel(s.ctx), n); err != nil {
		log.Printf("job %s: notify %s: %v", n.JobID, n.Kind, err)
	}
}

func (s *Supervisor) release(id string) {
	if s.retention <= 0 {
		s.registry.Remove(id)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers[id] = time.AfterFunc(s.retention, func() {
		s.registry.Remove(id)
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
	})
}
