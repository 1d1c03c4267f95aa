package domain

import "context"

// Encoder is the driven port for the external transcode-and-publish process.
// Each call spawns at most one process. Cancelling ctx terminates it.
type Encoder interface {
	Invoke(ctx context.Context, sourcePath, destinationURL, streamKey string) <-chan EncoderEvent
}

// NotificationSink is the driven port for lifecycle reporting. Implementations
// must return in bounded time; failed notifications are not retried.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to NotificationSink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// EventJournal is the driven port for reading recorded notifications.
type EventJournal interface {
	Events(ctx context.Context, jobID string) ([]RecordedEvent, error)
}
