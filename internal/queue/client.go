package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	optimizeMaxRetry = 3
	optimizeTimeout  = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueOptimize schedules a re-optimization. The job ID doubles as the asynq task ID so a
// duplicate submission is rejected with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueOptimize(ctx context.Context, payload OptimizePayload) (*asynq.TaskInfo, error) {
	task, err := NewOptimizeTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(optimizeMaxRetry),
		asynq.Timeout(optimizeTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
