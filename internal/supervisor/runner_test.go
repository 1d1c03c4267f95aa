package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwygoda/streamrelay/internal/domain"
)

// scriptedEncoder replays a fixed event list.
type scriptedEncoder struct {
	events []domain.EncoderEvent
	calls  int
}

func (e *scriptedEncoder) Invoke(ctx context.Context, sourcePath, destinationURL, streamKey string) <-chan domain.EncoderEvent {
	e.calls++
	ch := make(chan domain.EncoderEvent, len(e.events))
	for _, ev := range e.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestRunner_Run(t *testing.T) {
	tests := []struct {
		name       string
		events     []domain.EncoderEvent
		want       domain.Outcome
		wantDetail string
		wantStart  string
	}{
		{
			name: "success",
			events: []domain.EncoderEvent{
				{Kind: domain.EncoderStart, Command: "ffmpeg -i a.mp4"},
				{Kind: domain.EncoderEnd},
			},
			want:      domain.OutcomeSucceeded,
			wantStart: "ffmpeg -i a.mp4",
		},
		{
			name: "runtime error",
			events: []domain.EncoderEvent{
				{Kind: domain.EncoderStart, Command: "ffmpeg -i a.mp4"},
				{Kind: domain.EncoderError, Message: "connection refused"},
			},
			want:       domain.OutcomeFailed,
			wantDetail: "connection refused",
			wantStart:  "ffmpeg -i a.mp4",
		},
		{
			name: "spawn error",
			events: []domain.EncoderEvent{
				{Kind: domain.EncoderError, Message: "executable file not found"},
			},
			want:       domain.OutcomeFailed,
			wantDetail: "executable file not found",
		},
		{
			name: "stream closed without terminal event",
			events: []domain.EncoderEvent{
				{Kind: domain.EncoderStart, Command: "ffmpeg"},
			},
			want:       domain.OutcomeFailed,
			wantDetail: errNoTerminal,
			wantStart:  "ffmpeg",
		},
		{
			name: "first terminal event wins",
			events: []domain.EncoderEvent{
				{Kind: domain.EncoderStart, Command: "ffmpeg"},
				{Kind: domain.EncoderError, Message: "broken pipe"},
				{Kind: domain.EncoderEnd},
			},
			want:       domain.OutcomeFailed,
			wantDetail: "broken pipe",
			wantStart:  "ffmpeg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := &scriptedEncoder{events: tt.events}
			runner := NewRunner(enc)
			job := domain.NewStreamJob(testRequest("job", 1))

			var started []string
			res, err := runner.Run(t.Context(), job, 1, func(cmd string) { started = append(started, cmd) })
			require.NoError(t, err)
			require.Equal(t, 1, res.Index)
			require.Equal(t, tt.want, res.Outcome)
			require.Equal(t, tt.wantDetail, res.ErrorDetail)
			require.False(t, res.StartedAt.IsZero())
			require.False(t, res.EndedAt.Before(res.StartedAt))
			if tt.wantStart == "" {
				require.Empty(t, started)
			} else {
				require.Equal(t, []string{tt.wantStart}, started)
			}
		})
	}
}

func TestRunner_CancelledBeforeSpawn(t *testing.T) {
	enc := &scriptedEncoder{events: []domain.EncoderEvent{{Kind: domain.EncoderEnd}}}
	runner := NewRunner(enc)
	job := domain.NewStreamJob(testRequest("job", 1))
	job.RequestCancel()

	_, err := runner.Run(t.Context(), job, 1, nil)
	require.ErrorIs(t, err, domain.ErrCancelled)
	require.Zero(t, enc.calls)
}

func TestRunner_ContextDone(t *testing.T) {
	enc := &scriptedEncoder{events: []domain.EncoderEvent{{Kind: domain.EncoderEnd}}}
	runner := NewRunner(enc)
	job := domain.NewStreamJob(testRequest("job", 1))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := runner.Run(ctx, job, 1, nil)
	require.ErrorIs(t, err, domain.ErrCancelled)
	require.Zero(t, enc.calls)
}

func TestRunner_RecordsProgress(t *testing.T) {
	enc := &scriptedEncoder{events: []domain.EncoderEvent{
		{Kind: domain.EncoderStart},
		{Kind: domain.EncoderProgress, Line: "frame=1 time=00:00:01.00"},
		{Kind: domain.EncoderProgress, Line: "frame=2 time=00:00:02.00"},
		{Kind: domain.EncoderEnd},
	}}
	job := domain.NewStreamJob(testRequest("job", 1))

	_, err := NewRunner(enc).Run(t.Context(), job, 1, nil)
	require.NoError(t, err)
	require.Equal(t, "frame=2 time=00:00:02.00", job.Snapshot().Progress)
}
