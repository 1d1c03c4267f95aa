package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
	"github.com/cwygoda/streamrelay/internal/signature"
)

const defaultReplyTimeout = 5 * time.Second

// WebhookSink posts notifications to the messaging gateway's reply endpoint.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSink creates a sink posting to url. Requests are signed when
// secret is set and bounded by timeout.
func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// replyPayload is the body posted to the reply URL.
type replyPayload struct {
	JobID        string              `json:"job_id"`
	Kind         domain.EventKind    `json:"kind"`
	Text         string              `json:"text"`
	Notification domain.Notification `json:"notification"`
}

func (s *WebhookSink) Notify(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(replyPayload{
		JobID:        n.JobID,
		Kind:         n.Kind,
		Text:         n.Text(),
		Notification: n,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		signature.Sign(req.Header, body, s.secret, s.now())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post reply: unexpected status %s", resp.Status)
	}
	return nil
}
