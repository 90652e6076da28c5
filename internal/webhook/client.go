// Package webhook delivers signed job notifications.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
)

const (
	EventJobSucceeded = "job.succeeded"
	EventJobFailed    = "job.failed"

	HeaderSignature = "X-Pixelopt-Signature"
	HeaderTimestamp = "X-Pixelopt-Timestamp"
	HeaderEvent     = "X-Pixelopt-Event"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Payload is the body posted when an async job finishes.
type Payload struct {
	JobID      string                     `json:"job_id"`
	Status     string                     `json:"status"`
	OutputName string                     `json:"output_name,omitempty"`
	Result     *domain.OptimizationResult `json:"result,omitempty"`
	Error      string                     `json:"error,omitempty"`
	FinishedAt time.Time                  `json:"finished_at"`
}

// PayloadFor builds the notification for a job in a terminal state.
func PayloadFor(job domain.Job) (string, Payload) {
	event := EventJobSucceeded
	if job.Status == domain.JobStatusFailed {
		event = EventJobFailed
	}
	return event, Payload{
		JobID:      job.ID,
		Status:     job.Status,
		OutputName: job.OutputName,
		Result:     job.Result,
		Error:      job.Error,
		FinishedAt: job.UpdatedAt,
	}
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 1 * time.Second
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		now:            time.Now,
	}
}

func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	signature := c.sign(timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event)

		resp, err := c.httpClient.Do(req)
		if err == nil && resp != nil {
			resp.Body.Close()
		}

		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = classifyWebhookError(err, resp)
		if attempt == c.maxAttempts || permanent(resp) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery to %s failed: %w", endpoint, lastErr)
}

// Sign returns the signature header value for body sent at timestamp. Receivers recompute it to
// authenticate deliveries.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// permanent reports a client error that retrying cannot fix. 408 and 429 stay retryable.
func permanent(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	code := resp.StatusCode
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func (c *Client) sign(timestamp string, body []byte) string {
	return Sign(c.signingSecret, timestamp, body)
}

func classifyWebhookError(err error, resp *http.Response) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return errors.New("webhook request failed: no response")
	}
	return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
}
