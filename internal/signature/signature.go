// Package signature implements the shared request signing scheme:
// X-Signature = hex(SHA256("${timestamp}\n${body}\n${secret}")) with an
// RFC3339 X-Timestamp.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	// MaxSkew is the accepted distance between X-Timestamp and now.
	MaxSkew = 5 * time.Minute
)

var ErrInvalidSignature = errors.New("invalid signature")

// Compute returns the hex signature for body at timestamp.
func Compute(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

// Sign sets the timestamp and signature headers on h.
func Sign(h http.Header, body []byte, secret string, now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, Compute(ts, body, secret))
}

// Verify checks the signature headers in h against body.
func Verify(h http.Header, body []byte, secret string, now time.Time) error {
	timestamp := h.Get(HeaderTimestamp)
	if timestamp == "" {
		return fmt.Errorf("missing %s header", HeaderTimestamp)
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid %s: must be ISO8601/RFC3339 format", HeaderTimestamp)
	}

	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return fmt.Errorf("%s too far from current time (skew: %v, max: %v)", HeaderTimestamp, skew.Truncate(time.Second), MaxSkew)
	}

	sig := h.Get(HeaderSignature)
	if sig == "" {
		return fmt.Errorf("missing %s header", HeaderSignature)
	}

	expected := Compute(timestamp, body, secret)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
