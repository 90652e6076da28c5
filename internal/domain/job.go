package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// CreateJobRequest asks for an asynchronous re-optimization of an already uploaded original.
type CreateJobRequest struct {
	SafeFilename string            `json:"safe_filename"`
	WebhookURL   string            `json:"webhook_url,omitempty"`
	Options      ProcessingOptions `json:"options"`
}

type Job struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	SafeFilename string              `json:"safe_filename"`
	OutputName   string              `json:"output_name,omitempty"`
	WebhookURL   string              `json:"webhook_url,omitempty"`
	ClientID     string              `json:"client_id,omitempty"`
	Options      ProcessingOptions   `json:"options"`
	Result       *OptimizationResult `json:"result,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (r CreateJobRequest) Validate() error {
	name := strings.TrimSpace(r.SafeFilename)
	if name == "" {
		return errors.New("safe_filename is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid safe_filename: %s", r.SafeFilename)
	}
	if url := strings.TrimSpace(r.WebhookURL); url != "" &&
		!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("webhook_url must be http(s): %s", r.WebhookURL)
	}
	return r.Options.Validate()
}
