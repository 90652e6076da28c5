// Package queue defines the asynq tasks shared by the API and the worker.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	TypeOptimizeImage = "image:optimize"
	TypeCleanupFiles  = "files:cleanup"
)

// OptimizePayload re-optimizes an original that is already in the file store.
type OptimizePayload struct {
	JobID        string                   `json:"job_id"`
	SafeFilename string                   `json:"safe_filename"`
	WebhookURL   string                   `json:"webhook_url,omitempty"`
	ClientID     string                   `json:"client_id,omitempty"`
	Options      domain.ProcessingOptions `json:"options"`
	RequestedAt  time.Time                `json:"requested_at"`
}

// PayloadForJob copies the fields the worker needs out of a freshly created job.
func PayloadForJob(job domain.Job) OptimizePayload {
	return OptimizePayload{
		JobID:        job.ID,
		SafeFilename: job.SafeFilename,
		WebhookURL:   job.WebhookURL,
		ClientID:     job.ClientID,
		Options:      job.Options,
		RequestedAt:  job.CreatedAt,
	}
}

func NewOptimizeTask(payload OptimizePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal optimize payload: %w", err)
	}
	return asynq.NewTask(TypeOptimizeImage, body), nil
}

func ParseOptimizePayload(task *asynq.Task) (OptimizePayload, error) {
	var payload OptimizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OptimizePayload{}, fmt.Errorf("unmarshal optimize payload: %w", err)
	}
	if payload.JobID == "" || payload.SafeFilename == "" {
		return OptimizePayload{}, fmt.Errorf("optimize payload missing job_id or safe_filename")
	}
	return payload, nil
}

// NewCleanupTask carries no payload; the worker applies its configured retention.
func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeCleanupFiles, nil)
}
