package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerRecompute re-walks the cash chain for one or all businesses.
	TaskLedgerRecompute = "ledger:recompute"
	// TaskLedgerClosePrior locks every open month before the current one.
	TaskLedgerClosePrior = "ledger:close_prior_months"
)

// RecomputePayload scopes a recompute run. Empty BusinessIDs means every business with data.
type RecomputePayload struct {
	BusinessIDs []int64 `json:"business_ids,omitempty"`
}

// ClosePriorPayload scopes a month-end close. AsOf (YYYY-MM-DD) stamps closed_at; empty uses
// the run date.
type ClosePriorPayload struct {
	BusinessIDs []int64 `json:"business_ids,omitempty"`
	AsOf        string  `json:"as_of,omitempty"`
}

// NewRecomputeTask constructs a recompute task.
func NewRecomputeTask(payload RecomputePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerRecompute, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewClosePriorTask constructs a month-end close task. Identical payloads enqueued within an
// hour collapse into one.
func NewClosePriorTask(payload ClosePriorPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerClosePrior, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(time.Hour),
	), nil
}
