package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const defaultLockTTL = 5 * time.Minute

// LedgerVerifier replays product ledgers.
type LedgerVerifier interface {
	ListBusinessIDs(ctx context.Context) ([]int64, error)
	VerifyBusiness(ctx context.Context, businessID int64) ([]inventory.LedgerReport, error)
}

// LedgerIntegrityJob checks that every product's movements replay to its
// current stock. One business is checked by at most one worker at a time.
type LedgerIntegrityJob struct {
	Verifier LedgerVerifier
	Locker   *redislock.Client
	LockTTL  time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the job handler.
func NewLedgerIntegrityJob(verifier LedgerVerifier, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Verifier: verifier, Locker: locker, LockTTL: defaultLockTTL, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity check.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("ledger integrity: verifier not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskLedgerIntegrity)

	businesses := []int64{payload.BusinessID}
	if payload.BusinessID == 0 {
		ids, err := j.Verifier.ListBusinessIDs(ctx)
		if err != nil {
			j.log().Error("list businesses", slog.Any("error", err))
			return tracker.End(err)
		}
		businesses = ids
	}

	start := time.Now()
	checked, skipped, mismatched := 0, 0, 0
	for _, businessID := range businesses {
		n, err := j.checkBusiness(ctx, businessID)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			skipped++
			continue
		case err != nil:
			j.log().Error("verify business", slog.Int64("business_id", businessID), slog.Any("error", err))
			return tracker.End(err)
		}
		checked++
		mismatched += n
	}

	j.log().Info("ledger integrity checked",
		slog.Int("businesses", checked),
		slog.Int("skipped", skipped),
		slog.Int("mismatches", mismatched),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *LedgerIntegrityJob) checkBusiness(ctx context.Context, businessID int64) (int, error) {
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.LedgerCheckLockKey(businessID), j.lockTTL(), nil)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				j.log().Info("ledger check already running", slog.Int64("business_id", businessID))
			}
			return 0, err
		}
		defer func() {
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}
	reports, err := j.Verifier.VerifyBusiness(ctx, businessID)
	if err != nil {
		return 0, err
	}
	for _, r := range reports {
		j.log().Warn("stock ledger mismatch",
			slog.Int64("business_id", businessID),
			slog.Int64("product_id", r.ProductID),
			slog.String("current_stock", r.CurrentStock.String()),
			slog.String("replayed_stock", r.ReplayedStock.String()),
			slog.Int64("broken_at_movement", r.BrokenAt),
		)
	}
	j.metrics().AddLedgerMismatches(businessID, len(reports))
	return len(reports), nil
}

func (j *LedgerIntegrityJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return defaultLockTTL
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
