package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/donasdosas/ledger/internal/jobs"
	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerService is the part of the ledger the background jobs drive.
type LedgerService interface {
	Recompute(ctx context.Context, businessID int64) (ledger.RecomputeResult, error)
	LockPrior(ctx context.Context, businessID int64, asOf time.Time) ([]shared.MonthKey, error)
}

// BusinessLister discovers every business holding ledger data.
type BusinessLister interface {
	ListBusinesses(ctx context.Context) ([]int64, error)
}

// LedgerJobs runs recompute and month-end close tasks.
type LedgerJobs struct {
	Ledger     LedgerService
	Businesses BusinessLister
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewLedgerJobs wires the job handlers.
func NewLedgerJobs(svc LedgerService, businesses BusinessLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerJobs {
	return &LedgerJobs{
		Ledger:     svc,
		Businesses: businesses,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task handlers to register on the worker.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerRecompute, Handler: j.HandleRecompute},
		{Type: TaskLedgerClosePrior, Handler: j.HandleClosePrior},
	}
}

// HandleRecompute re-walks the chain of each business in scope. One failing business does not
// stop the others; the task fails if any did.
func (j *LedgerJobs) HandleRecompute(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger recompute: dependencies not configured")
	}
	var payload RecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("ledger recompute: %v: %w", err, asynq.SkipRetry)
	}

	run := j.metrics().Track(TaskLedgerRecompute)
	var resultErr error
	defer func() {
		resultErr = run.End(resultErr)
	}()

	logger := j.log(TaskLedgerRecompute)
	ids, err := j.resolveBusinesses(ctx, payload.BusinessIDs)
	if err != nil {
		resultErr = err
		logger.Error("resolve businesses", slog.Any("error", err))
		return resultErr
	}

	start := j.now()
	var failed []error
	rewritten := 0
	for _, id := range ids {
		res, err := j.Ledger.Recompute(ctx, id)
		if err != nil {
			logger.Error("recompute business", slog.Int64("business_id", id), slog.Any("error", err))
			run.BusinessFailed()
			failed = append(failed, fmt.Errorf("business %d: %w", id, err))
			continue
		}
		rewritten += len(res.Updated)
		if len(res.Gaps) > 0 {
			logger.Warn("month gaps detected", slog.Int64("business_id", id), slog.Int("gaps", len(res.Gaps)))
		}
	}
	resultErr = errors.Join(failed...)
	logger.Info("recompute finished",
		slog.Int("businesses", len(ids)),
		slog.Int("months_rewritten", rewritten),
		slog.Int("failed", len(failed)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

// HandleClosePrior locks every open month strictly before the current calendar month.
func (j *LedgerJobs) HandleClosePrior(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger close: dependencies not configured")
	}
	var payload ClosePriorPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("ledger close: %v: %w", err, asynq.SkipRetry)
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", payload.AsOf)
		if err != nil {
			return fmt.Errorf("ledger close: as_of %q: %w", payload.AsOf, asynq.SkipRetry)
		}
		asOf = parsed
	}

	run := j.metrics().Track(TaskLedgerClosePrior)
	var resultErr error
	defer func() {
		resultErr = run.End(resultErr)
	}()

	logger := j.log(TaskLedgerClosePrior)
	ids, err := j.resolveBusinesses(ctx, payload.BusinessIDs)
	if err != nil {
		resultErr = err
		logger.Error("resolve businesses", slog.Any("error", err))
		return resultErr
	}

	var failed []error
	for _, id := range ids {
		locked, err := j.Ledger.LockPrior(ctx, id, asOf)
		j.metrics().AddClosedMonths(len(locked))
		if err != nil {
			logger.Error("close prior months", slog.Int64("business_id", id), slog.Any("error", err))
			run.BusinessFailed()
			failed = append(failed, fmt.Errorf("business %d: %w", id, err))
			continue
		}
		if len(locked) > 0 {
			logger.Info("months closed", slog.Int64("business_id", id), slog.Any("months", locked))
		}
	}
	resultErr = errors.Join(failed...)
	return resultErr
}

func (j *LedgerJobs) resolveBusinesses(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) > 0 {
		for _, id := range ids {
			if id <= 0 {
				return nil, fmt.Errorf("business id must be positive, got %d", id)
			}
		}
		return ids, nil
	}
	if j.Businesses == nil {
		return nil, errors.New("no business ids given and no business lister configured")
	}
	return j.Businesses.ListBusinesses(ctx)
}

func (j *LedgerJobs) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerJobs) log(task string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}

func (j *LedgerJobs) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LedgerJobs) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
