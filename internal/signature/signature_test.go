package signature

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	now := time.Now()
	body := []byte(`{"body":"!ping"}`)

	h := http.Header{}
	Sign(h, body, "s3cret", now)
	if err := Verify(h, body, "s3cret", now); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := Verify(h, []byte(`{"body":"!stop"}`), "s3cret", now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify() with tampered body error = %v, want ErrInvalidSignature", err)
	}
	if err := Verify(h, body, "other", now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_Headers(t *testing.T) {
	now := time.Now()
	body := []byte("{}")

	tests := []struct {
		name    string
		headers func() http.Header
		wantErr string
	}{
		{
			name:    "missing timestamp",
			headers: func() http.Header { return http.Header{} },
			wantErr: "missing X-Timestamp",
		},
		{
			name: "bad timestamp",
			headers: func() http.Header {
				h := http.Header{}
				h.Set(HeaderTimestamp, "yesterday")
				return h
			},
			wantErr: "invalid X-Timestamp",
		},
		{
			name: "stale timestamp",
			headers: func() http.Header {
				h := http.Header{}
				Sign(h, body, "s3cret", now.Add(-10*time.Minute))
				return h
			},
			wantErr: "too far from current time",
		},
		{
			name: "missing signature",
			headers: func() http.Header {
				h := http.Header{}
				h.Set(HeaderTimestamp, now.UTC().Format(time.RFC3339))
				return h
			},
			wantErr: "missing X-Signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.headers(), body, "s3cret", now)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Verify() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	got := Compute("2024-01-01T00:00:00Z", []byte("{}"), "secret")
	if len(got) != 64 {
		t.Errorf("Compute() length = %d, want 64", len(got))
	}
	if got != Compute("2024-01-01T00:00:00Z", []byte("{}"), "secret") {
		t.Error("Compute() not deterministic")
	}
}
