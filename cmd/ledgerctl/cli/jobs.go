package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/donasdosas/ledger/jobs"
)

// JobsCLI wraps manual management helpers for the ledger queue.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the helpers against the provided Redis connection.
func NewJobsCLI(redisOpt asynq.RedisConnOpt) (*JobsCLI, error) {
	if redisOpt == nil {
		return nil, errors.New("jobs cli: redis connection required")
	}
	return &JobsCLI{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a ledger job by task type for the given businesses. Empty means all.
func (c *JobsCLI) Trigger(ctx context.Context, name string, businessIDs []int64, asOf string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(name, businessIDs, asOf)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// BuildTask maps a task type to its prepared task.
func BuildTask(name string, businessIDs []int64, asOf string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskLedgerRecompute:
		return jobs.NewRecomputeTask(jobs.RecomputePayload{BusinessIDs: businessIDs})
	case jobs.TaskLedgerClosePrior:
		return jobs.NewClosePriorTask(jobs.ClosePriorPayload{BusinessIDs: businessIDs, AsOf: asOf})
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return QueueStats{Queue: jobs.QueueDefault}, nil
		}
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
