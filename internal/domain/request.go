package domain

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
)

// StreamJobParams are the raw fields of a stream command.
type StreamJobParams struct {
	JobID          string
	DestinationURL string
	StreamKey      string
	SourcePath     string
	RepeatCount    int
	Chat           string
}

// StreamJobRequest is a validated, immutable stream request.
type StreamJobRequest struct {
	JobID          string `json:"job_id"`
	DestinationURL string `json:"destination_url"`
	StreamKey      string `json:"-"`
	SourcePath     string `json:"source_path"`
	RepeatCount    int    `json:"repeat_count"`
	// Chat is the opaque address of the requester, echoed on notifications.
	Chat string `json:"chat,omitempty"`
}

// Destination returns the composed publish endpoint.
func (r StreamJobRequest) Destination() string {
	return r.DestinationURL + "/" + r.StreamKey
}

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// NewStreamJobRequest validates p and builds a request. A zero repeat count
// means one attempt; a missing job id is generated.
func NewStreamJobRequest(p StreamJobParams) (StreamJobRequest, error) {
	dest := strings.TrimRight(strings.TrimSpace(p.DestinationURL), "/")
	if dest == "" {
		return StreamJobRequest{}, &ValidationError{Field: "destination_url", Reason: "required"}
	}
	u, err := url.Parse(dest)
	if err != nil {
		return StreamJobRequest{}, &ValidationError{Field: "destination_url", Reason: err.Error()}
	}
	if u.Scheme == "" || u.Host == "" {
		return StreamJobRequest{}, &ValidationError{Field: "destination_url", Reason: "must be an absolute URL"}
	}

	key := strings.TrimSpace(p.StreamKey)
	if key == "" {
		return StreamJobRequest{}, &ValidationError{Field: "stream_key", Reason: "required"}
	}

	if p.SourcePath == "" {
		return StreamJobRequest{}, &ValidationError{Field: "source_path", Reason: "required"}
	}
	fi, err := os.Stat(p.SourcePath)
	if err != nil {
		return StreamJobRequest{}, &ValidationError{Field: "source_path", Reason: fmt.Sprintf("video file not found at %s", p.SourcePath)}
	}
	if fi.IsDir() {
		return StreamJobRequest{}, &ValidationError{Field: "source_path", Reason: "is a directory"}
	}

	repeat := p.RepeatCount
	if repeat < 0 {
		return StreamJobRequest{}, &ValidationError{Field: "repeat_count", Reason: "must be positive"}
	}
	if repeat == 0 {
		repeat = 1
	}

	id := p.JobID
	if id == "" {
		id = uuid.NewString()
	}

	return StreamJobRequest{
		JobID:          id,
		DestinationURL: dest,
		StreamKey:      key,
		SourcePath:     p.SourcePath,
		RepeatCount:    repeat,
		Chat:           p.Chat,
	}, nil
}
