package domain

import (
	"fmt"
	"time"
)

// EventKind names a job lifecycle notification.
type EventKind string

const (
	EventAccepted         EventKind = "accepted"
	EventAttemptStarted   EventKind = "attempt-started"
	EventAttemptSucceeded EventKind = "attempt-succeeded"
	EventAttemptFailed    EventKind = "attempt-failed"
	EventFinished         EventKind = "finished"
)

// Notification is one lifecycle event reported to a NotificationSink.
type Notification struct {
	JobID      string    `json:"job_id"`
	Chat       string    `json:"chat,omitempty"`
	Kind       EventKind `json:"kind"`
	Index      int       `json:"index,omitempty"`
	Total      int       `json:"total,omitempty"`
	// Failure reason, set on attempt-failed and finished(failed).
	Reason     string    `json:"reason,omitempty"`
	FinalState JobState  `json:"final_state,omitempty"`
	Attempts   int       `json:"attempts"`

	// Set on accepted only.
	DestinationURL string `json:"destination_url,omitempty"`
	SourcePath     string `json:"source_path,omitempty"`

	// Encoder command line, set on attempt-started.
	Command string `json:"command,omitempty"`
}

// Text renders the notification as a chat reply.
func (n Notification) Text() string {
	switch n.Kind {
	case EventAccepted:
		return fmt.Sprintf("Starting stream to %s with video %s. Repeat count: %d", n.DestinationURL, n.SourcePath, n.Total)
	case EventAttemptStarted:
		return fmt.Sprintf("Stream %d/%d started!", n.Index, n.Total)
	case EventAttemptSucceeded:
		return fmt.Sprintf("Stream %d/%d finished!", n.Index, n.Total)
	case EventAttemptFailed:
		return fmt.Sprintf("Stream %d/%d failed: %s", n.Index, n.Total, n.Reason)
	case EventFinished:
		switch n.FinalState {
		case StateCompleted:
			return fmt.Sprintf("All streaming tasks completed (%d run).", n.Attempts)
		case StateFailed:
			if n.Reason != "" {
				return fmt.Sprintf("An error occurred during streaming: %s\nAll streaming tasks completed or stopped due to error.", n.Reason)
			}
			return fmt.Sprintf("Streaming stopped due to error after %d attempt(s).", n.Attempts)
		case StateCancelled:
			return fmt.Sprintf("Streaming stopped on request after %d attempt(s).", n.Attempts)
		}
		return fmt.Sprintf("Streaming finished: %s", n.FinalState)
	}
	return string(n.Kind)
}

// RecordedEvent is a notification as stored by an EventJournal.
type RecordedEvent struct {
	Notification
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// EncoderEventKind tags an event on an encoder's event stream.
type EncoderEventKind int

const (
	EncoderStart EncoderEventKind = iota
	EncoderProgress
	EncoderError
	EncoderEnd
)

// EncoderEvent is emitted by an Encoder. A stream carries at most one
// EncoderStart, any number of EncoderProgress, and exactly one terminal
// EncoderError or EncoderEnd, after which it is closed.
type EncoderEvent struct {
	Kind EncoderEventKind

	// EncoderStart: the spawned command line. EncoderProgress: the line.
	Command string
	Line    string

	// EncoderError only.
	Message    string
	StdoutTail string
	StderrTail string
}

// Terminal reports whether this event ends the stream.
func (e EncoderEvent) Terminal() bool {
	return e.Kind == EncoderError || e.Kind == EncoderEnd
}
