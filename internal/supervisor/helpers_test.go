package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
)

// fakeEncoder emits scripted events. outcomes[i] is the error message for
// call i+1; an empty string means success. Calls beyond the script succeed.
type fakeEncoder struct {
	outcomes []string
	noStart  bool
	// block, when set, is called after the start event and before the
	// terminal one.
	block func(ctx context.Context, call int)
	calls atomic.Int32
}

func (f *fakeEncoder) Invoke(ctx context.Context, sourcePath, destinationURL, streamKey string) <-chan domain.EncoderEvent {
	call := int(f.calls.Add(1))
	events := make(chan domain.EncoderEvent, 4)
	go func() {
		defer close(events)
		if !f.noStart {
			events <- domain.EncoderEvent{Kind: domain.EncoderStart, Command: "ffmpeg -i " + sourcePath + " " + destinationURL + "/****"}
			events <- domain.EncoderEvent{Kind: domain.EncoderProgress, Line: "frame=1 size=1kB time=00:00:01.00"}
		}
		if f.block != nil {
			f.block(ctx, call)
		}
		if ctx.Err() != nil {
			events <- domain.EncoderEvent{Kind: domain.EncoderError, Message: "ffmpeg was killed: " + ctx.Err().Error()}
			return
		}
		if call <= len(f.outcomes) && f.outcomes[call-1] != "" {
			events <- domain.EncoderEvent{Kind: domain.EncoderError, Message: f.outcomes[call-1], StderrTail: f.outcomes[call-1]}
			return
		}
		events <- domain.EncoderEvent{Kind: domain.EncoderEnd}
	}()
	return events
}

// recordingSink stores notifications and runs an optional hook per event.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Notification
	hook   func(n domain.Notification)
	done   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{}, 16)}
}

func (s *recordingSink) Notify(ctx context.Context, n domain.Notification) error {
	s.mu.Lock()
	s.events = append(s.events, n)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if n.Kind == domain.EventFinished {
		s.done <- struct{}{}
	}
	return nil
}

func (s *recordingSink) snapshot() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.events...)
}

func (s *recordingSink) forJob(id string) []domain.Notification {
	var out []domain.Notification
	for _, n := range s.snapshot() {
		if n.JobID == id {
			out = append(out, n)
		}
	}
	return out
}

func (s *recordingSink) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

// event is a compact form of a notification for sequence assertions.
type event struct {
	Kind     domain.EventKind
	Index    int
	Total    int
	Reason   string
	State    domain.JobState
	Attempts int
}

func compact(ns []domain.Notification) []event {
	out := make([]event, 0, len(ns))
	for _, n := range ns {
		e := event{Kind: n.Kind, Index: n.Index, Total: n.Total, Reason: n.Reason}
		if n.Kind == domain.EventFinished {
			e.Total = 0
			e.State = n.FinalState
			e.Attempts = n.Attempts
		}
		if n.Kind == domain.EventAccepted {
			e.Total = 0
		}
		out = append(out, e)
	}
	return out
}

func testRequest(id string, repeat int) domain.StreamJobRequest {
	return domain.StreamJobRequest{
		JobID:          id,
		DestinationURL: "rtmps://example.com/live",
		StreamKey:      "k1",
		SourcePath:     "/tmp/a.mp4",
		RepeatCount:    repeat,
	}
}
