package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
	"github.com/cwygoda/streamrelay/internal/signature"
)

var started = domain.Notification{JobID: "job-1", Kind: domain.EventAttemptStarted, Index: 1, Total: 2}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriterSink(&buf).Notify(context.Background(), started); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Stream 1/2 started!\n" {
		t.Errorf("output = %q", got)
	}
}

func TestMulti(t *testing.T) {
	var calls []string
	ok := domain.SinkFunc(func(ctx context.Context, n domain.Notification) error {
		calls = append(calls, "ok")
		return nil
	})
	failing := domain.SinkFunc(func(ctx context.Context, n domain.Notification) error {
		calls = append(calls, "failing")
		return errors.New("boom")
	})

	err := Multi{failing, nil, ok}.Notify(context.Background(), started)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Notify() error = %v, want boom", err)
	}
	if strings.Join(calls, ",") != "failing,ok" {
		t.Errorf("calls = %v, want every sink called", calls)
	}

	if err := (Multi{}).Notify(context.Background(), started); err != nil {
		t.Errorf("empty Multi error = %v", err)
	}
}

func TestWebhookSink(t *testing.T) {
	var got replyPayload
	var verifyErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifyErr = signature.Verify(r.Header, body, "s3cret", time.Now())
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "s3cret", time.Second)
	if err := sink.Notify(context.Background(), started); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if verifyErr != nil {
		t.Errorf("signature rejected: %v", verifyErr)
	}
	if got.JobID != "job-1" || got.Kind != domain.EventAttemptStarted {
		t.Errorf("payload = %+v", got)
	}
	if got.Text != "Stream 1/2 started!" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestWebhookSink_Errors(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		err := NewWebhookSink(srv.URL, "", time.Second).Notify(context.Background(), started)
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Errorf("Notify() error = %v, want 502", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		start := time.Now()
		err := NewWebhookSink(srv.URL, "", 50*time.Millisecond).Notify(context.Background(), started)
		if err == nil {
			t.Fatal("Notify() error = nil, want timeout")
		}
		if time.Since(start) > 2*time.Second {
			t.Errorf("Notify() took %v, want bounded by timeout", time.Since(start))
		}
	})
}
