package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cwygoda/streamrelay/internal/domain"
)

// LogSink logs every notification's chat text.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, n domain.Notification) error {
	log.Printf("job %s: %s", n.JobID, n.Text())
	return nil
}

// WriterSink writes notification texts, one per line.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Notify(_ context.Context, n domain.Notification) error {
	_, err := fmt.Fprintln(s.w, n.Text())
	return err
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []domain.NotificationSink

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
