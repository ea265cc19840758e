package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/testing/memstore"
)

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func jobsTotal(t *testing.T, reg *prometheus.Registry, job, status string) float64 {
	return counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": job, "status": status})
}

func TestLedgerIntegrityFindsDrift(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	healthy := h.Product(t, "OK", "4")
	drifted := h.Product(t, "DRIFT", "9")
	h.Store.SetStock(drifted.ID, memstore.Dec(t, "7"))

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewLedgerIntegrityJob(h.Inventory, newLocker(t), discard(), metrics)

	task, err := NewLedgerIntegrityTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	require.Equal(t, float64(1), jobsTotal(t, reg, TaskLedgerIntegrity, "success"))
	require.Equal(t, float64(1), counterValue(t, reg, "odyssey_ledger_mismatches_total", map[string]string{"business": "1"}))

	reports, err := h.Inventory.VerifyBusiness(ctx, h.Scope.BusinessID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, drifted.ID, reports[0].ProductID)
	require.NotEqual(t, healthy.ID, reports[0].ProductID)
}

func TestLedgerIntegritySkipsLockedBusiness(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	p := h.Product(t, "LOCKED", "2")
	h.Store.SetStock(p.ID, memstore.Dec(t, "1"))

	locker := newLocker(t)
	held, err := locker.Obtain(ctx, shared.LedgerCheckLockKey(1), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewLedgerIntegrityJob(h.Inventory, locker, discard(), metrics)

	task, err := NewLedgerIntegrityTask(1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, float64(1), jobsTotal(t, reg, TaskLedgerIntegrity, "success"))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		require.NotEqual(t, "odyssey_ledger_mismatches_total", f.GetName(), "locked business must not be checked")
	}
}

type failingVerifier struct {
	listErr   error
	verifyErr error
}

func (v failingVerifier) ListBusinessIDs(context.Context) ([]int64, error) {
	return []int64{1, 2}, v.listErr
}

func (v failingVerifier) VerifyBusiness(context.Context, int64) ([]inventory.LedgerReport, error) {
	return nil, v.verifyErr
}

func TestLedgerIntegrityReportsFailures(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	task, err := NewLedgerIntegrityTask(0)
	require.NoError(t, err)

	listErr := errors.New("pool closed")
	job := NewLedgerIntegrityJob(failingVerifier{listErr: listErr}, nil, discard(), metrics)
	require.ErrorIs(t, job.Handle(ctx, task), listErr)
	require.Equal(t, float64(1), jobsTotal(t, reg, TaskLedgerIntegrity, "failure"))

	verifyErr := errors.New("statement timeout")
	job = NewLedgerIntegrityJob(failingVerifier{verifyErr: verifyErr}, newLocker(t), discard(), metrics)
	require.ErrorIs(t, job.Handle(ctx, task), verifyErr)
	require.Equal(t, float64(2), jobsTotal(t, reg, TaskLedgerIntegrity, "failure"))
	require.Equal(t, float64(0), jobsTotal(t, reg, TaskLedgerIntegrity, "success"))
	require.Equal(t, float64(2), counterValue(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": TaskLedgerIntegrity}))
}

func TestLedgerIntegrityRejectsBadPayload(t *testing.T) {
	job := NewLedgerIntegrityJob(memstore.NewHarness(memstore.Options{}).Inventory, nil, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, events []outbox.Event) error {
	return errors.New("broker unavailable")
}

type countingPublisher struct{ n int }

func (p *countingPublisher) Publish(ctx context.Context, events []outbox.Event) error {
	p.n += len(events)
	return nil
}

func TestOutboxRelayJob(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	h.Product(t, "EVT", "3")
	pending := len(h.Store.Events())
	require.Positive(t, pending)

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	task, err := NewOutboxRelayTask(0)
	require.NoError(t, err)

	failing := NewOutboxRelayJob(outbox.NewRelay(h.Store, failingPublisher{}, discard(), 10), discard(), metrics)
	require.Error(t, failing.Handle(ctx, task))
	require.Equal(t, float64(1), jobsTotal(t, reg, TaskOutboxRelay, "failure"))

	publisher := &countingPublisher{}
	job := NewOutboxRelayJob(outbox.NewRelay(h.Store, publisher, discard(), 10), discard(), metrics)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, pending, publisher.n)
	require.Equal(t, float64(1), jobsTotal(t, reg, TaskOutboxRelay, "success"))
	require.Equal(t, float64(pending), counterValue(t, reg, "odyssey_outbox_published_total", nil))

	n, err := testutil.GatherAndCount(reg, "odyssey_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTaskByName(t *testing.T) {
	task, err := TaskByName(TaskOutboxRelay)
	require.NoError(t, err)
	require.Equal(t, TaskOutboxRelay, task.Type())

	_, err = TaskByName("mail:send")
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, discard()).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"paused":false}`, rr.Body.String())
}

type recordingPruner struct {
	retention time.Duration
	err       error
}

func (p *recordingPruner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	p.retention = olderThan
	return p.err
}

func TestIdempotencyPruneJob(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	pruner := &recordingPruner{}
	job := NewIdempotencyPruneJob(pruner, discard(), metrics)
	task, err := NewIdempotencyPruneTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, DefaultIdempotencyRetention, pruner.retention)

	task, err = NewIdempotencyPruneTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, 24*time.Hour, pruner.retention)
	require.Equal(t, float64(2), jobsTotal(t, reg, TaskIdempotencyPrune, "success"))

	pruner.err = errors.New("connection reset")
	require.Error(t, job.Handle(ctx, task))
	require.Equal(t, float64(1), jobsTotal(t, reg, TaskIdempotencyPrune, "failure"))

	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskIdempotencyPrune, []byte("["))), asynq.SkipRetry)
}

func TestNilClientRefusesEnqueue(t *testing.T) {
	var c *Client
	_, err := c.Enqueue(context.Background(), asynq.NewTask(TaskOutboxRelay, nil))
	require.Error(t, err)
	require.NoError(t, c.Close())
}
