package supervisor

import (
	"context"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
)

const errNoTerminal = "encoder exited without reporting a result"

// Runner runs single attempts against an encoder.
type Runner struct {
	encoder domain.Encoder
	now     func() time.Time
}

// NewRunner creates a runner driving enc.
func NewRunner(enc domain.Encoder) *Runner {
	return &Runner{encoder: enc, now: time.Now}
}

// Run executes attempt index of job and blocks until the encoder reports a
// terminal event. onStart receives the encoder's command description once
// the process is launched. If the encoder fails to launch, onStart is not
// called and the result is a failed attempt.
//
// If cancellation was requested before the attempt, Run returns
// domain.ErrCancelled without spawning anything. It also returns
// domain.ErrCancelled when ctx ends while the attempt is in flight.
func (r *Runner) Run(ctx context.Context, job *domain.StreamJob, index int, onStart func(command string)) (domain.AttemptResult, error) {
	if job.CancelRequested() || ctx.Err() != nil {
		return domain.AttemptResult{}, domain.ErrCancelled
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := domain.AttemptResult{Index: index, StartedAt: r.now()}
	req := job.Request
	events := r.encoder.Invoke(actx, req.SourcePath, req.DestinationURL, req.StreamKey)

	var terminal *domain.EncoderEvent
	for ev := range events {
		switch ev.Kind {
		case domain.EncoderStart:
			if onStart != nil {
				onStart(ev.Command)
			}
		case domain.EncoderProgress:
			job.SetProgress(ev.Line)
		case domain.EncoderError, domain.EncoderEnd:
			if terminal == nil {
				e := ev
				terminal = &e
			}
		}
	}
	res.EndedAt = r.now()

	switch {
	case terminal != nil && terminal.Kind == domain.EncoderEnd:
		res.Outcome = domain.OutcomeSucceeded
	case ctx.Err() != nil:
		return res, domain.ErrCancelled
	case terminal == nil:
		res.Outcome = domain.OutcomeFailed
		res.ErrorDetail = errNoTerminal
	default:
		res.Outcome = domain.OutcomeFailed
		res.ErrorDetail = terminal.Message
	}
	return res, nil
}
