// Package upload transfers finished recording artifacts to the configured
// n8n webhook endpoint.
//
// One attempt per artifact, bounded by a fixed timeout; no retries. A timeout
// is reported distinctly from other failures so a future retry policy can
// treat the two differently.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tapedeck/internal/encoder"
)

// DefaultTimeout bounds one upload attempt end to end.
const DefaultTimeout = 30 * time.Second

// Status classifies the result of one upload attempt.
type Status int

const (
	// StatusSuccess: the endpoint accepted the artifact.
	StatusSuccess Status = iota

	// StatusFailure: transport or protocol error before the deadline.
	StatusFailure

	// StatusTimedOut: the attempt exceeded the upload timeout.
	StatusTimedOut
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the transient result of one upload attempt. It is surfaced to
// the dispatcher and the notification channel, then discarded.
type Outcome struct {
	Status   Status
	Reason   string
	Duration time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout overrides the per-attempt timeout. Used by tests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client uploads artifacts over HTTP multipart/form-data. Safe for concurrent
// use, though the dispatcher serialises attempts in this version.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates an upload client with the default 30 s timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Upload POSTs the artifact to endpoint as multipart/form-data with three
// parts: "file" (the container bytes), "filename", and "timestamp" (ISO 8601
// creation time). The attempt is bounded by the client timeout; ctx may
// cancel it earlier.
func (c *Client) Upload(ctx context.Context, art encoder.Artifact, endpoint string) Outcome {
	start := time.Now()
	id := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome := c.attempt(ctx, art, endpoint)
	outcome.Duration = time.Since(start)

	switch outcome.Status {
	case StatusSuccess:
		slog.Info("upload complete", "upload_id", id, "endpoint", endpoint, "bytes", art.Size, "took", outcome.Duration)
	case StatusTimedOut:
		slog.Warn("upload timed out", "upload_id", id, "endpoint", endpoint, "took", outcome.Duration)
	default:
		slog.Warn("upload failed", "upload_id", id, "endpoint", endpoint, "reason", outcome.Reason)
	}
	return outcome
}

// attempt performs the single HTTP exchange and maps errors to statuses.
func (c *Client) attempt(ctx context.Context, art encoder.Artifact, endpoint string) Outcome {
	data, err := os.ReadFile(art.Path)
	if err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("read artifact: %v", err)}
	}

	filename := filepath.Base(art.Path)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("create form file: %v", err)}
	}
	if _, err := fw.Write(data); err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("write form file: %v", err)}
	}
	if err := mw.WriteField("filename", filename); err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("write filename field: %v", err)}
	}
	if err := mw.WriteField("timestamp", art.CreatedAt.Format(time.RFC3339)); err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("write timestamp field: %v", err)}
	}
	if err := mw.Close(); err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("close multipart writer: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{Status: StatusTimedOut, Reason: "request exceeded upload timeout"}
		}
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("http request: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Status: StatusFailure, Reason: fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode)}
	}
	return Outcome{Status: StatusSuccess}
}
