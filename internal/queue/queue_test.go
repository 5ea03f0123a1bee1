package queue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skinvault/escrowd/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(cfg Config) (*Queue, *time.Time) {
	q := New(cfg, nil)
	now := time.Now()
	q.now = func() time.Time { return now }
	return q, &now
}

func TestEnqueueClampsPriority(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig())
	q.SetProcessor(func(ctx context.Context, job *model.TradeJob) error { return nil })

	job, err := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 99})
	require.NoError(t, err)
	assert.Equal(t, 10, job.Priority)

	job, err = q.Enqueue(model.JobPayload{TradeID: "t2"}, EnqueueOptions{Priority: -3})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Priority)
}

func TestEnqueueVIPLiftsIntoHighBand(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig())

	job, err := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 8, VIP: true})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Priority)

	// already high-priority VIP submissions keep their priority
	job, err = q.Enqueue(model.JobPayload{TradeID: "t2"}, EnqueueOptions{Priority: 1, VIP: true})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Priority)
}

func TestEnqueueRejectsEmptyPayload(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig())
	_, err := q.Enqueue(model.JobPayload{}, EnqueueOptions{})
	require.Error(t, err)
}

func TestClaimPicksHighestPriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig())

	low, _ := q.Enqueue(model.JobPayload{TradeID: "low"}, EnqueueOptions{Priority: 5})
	first, _ := q.Enqueue(model.JobPayload{TradeID: "a"}, EnqueueOptions{Priority: 2})
	second, _ := q.Enqueue(model.JobPayload{TradeID: "b"}, EnqueueOptions{Priority: 2})

	got, _, ok := q.claim()
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)

	got, _, ok = q.claim()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	got, _, ok = q.claim()
	require.True(t, ok)
	assert.Equal(t, low.ID, got.ID)
}

func TestRetryFollowsBackoffLadderThenFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BackoffLadder = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}
	q, now := newTestQueue(cfg)

	job, err := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	procErr := errors.New("permanently failing")

	// attempt 1
	claimed, token, ok := q.claim()
	require.True(t, ok)
	assert.Equal(t, 1, claimed.Attempts)
	q.settle(claimed.ID, token, procErr)

	stored, _ := q.Get(job.ID)
	assert.Equal(t, model.JobWaiting, stored.Status)
	assert.Equal(t, now.Add(1*time.Second), stored.NextRunAt, "first failure waits ladder[0]")

	// not yet eligible before the backoff elapses
	_, _, ok = q.claim()
	assert.False(t, ok)

	// attempt 2
	*now = now.Add(1 * time.Second)
	claimed, token, ok = q.claim()
	require.True(t, ok)
	assert.Equal(t, 2, claimed.Attempts)
	q.settle(claimed.ID, token, procErr)

	stored, _ = q.Get(job.ID)
	assert.Equal(t, now.Add(5*time.Second), stored.NextRunAt, "second failure waits ladder[1]")

	// attempt 3 exhausts the job
	*now = now.Add(5 * time.Second)
	claimed, token, ok = q.claim()
	require.True(t, ok)
	assert.Equal(t, 3, claimed.Attempts)
	q.settle(claimed.ID, token, procErr)

	stored, _ = q.Get(job.ID)
	assert.Equal(t, model.JobFailed, stored.Status)
	assert.Equal(t, "permanently failing", stored.LastError)

	_, _, ok = q.claim()
	assert.False(t, ok, "failed jobs never run again")
}

func TestExpiredLeaseRequeuesUpToStallBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStalls = 2
	q, now := newTestQueue(cfg)

	job, _ := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 5})

	for stall := 1; stall <= 2; stall++ {
		_, _, ok := q.claim()
		require.True(t, ok)

		*now = now.Add(cfg.Lease + time.Second)
		q.reapExpired()

		stored, _ := q.Get(job.ID)
		assert.Equal(t, model.JobWaiting, stored.Status)
		assert.Equal(t, stall, stored.Stalls)
	}

	// third stall exceeds the bound
	_, _, ok := q.claim()
	require.True(t, ok)
	*now = now.Add(cfg.Lease + time.Second)
	q.reapExpired()

	stored, _ := q.Get(job.ID)
	assert.Equal(t, model.JobFailed, stored.Status)
}

func TestStaleLeaseResultIsDropped(t *testing.T) {
	cfg := DefaultConfig()
	q, now := newTestQueue(cfg)

	job, _ := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 5})

	_, token, ok := q.claim()
	require.True(t, ok)

	// lease expires and the job is requeued before the processor returns
	*now = now.Add(cfg.Lease + time.Second)
	q.reapExpired()

	q.settle(job.ID, token, nil)

	stored, _ := q.Get(job.ID)
	assert.Equal(t, model.JobWaiting, stored.Status, "stale success must not complete a requeued job")
}

func TestSettleRacingClaim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 100
	cfg.BackoffLadder = []time.Duration{0}
	q, _ := newTestQueue(cfg)

	job, _ := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 5})

	// failed settles interleave with fresh claims touching the same
	// map-resident record; the race detector flags any read of it
	// outside the lock
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				if _, token, ok := q.claim(); ok {
					q.settle(job.ID, token, errors.New("boom"))
				}
			}
		}()
	}
	wg.Wait()

	stored, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.LessOrEqual(t, stored.Attempts, cfg.MaxAttempts)
}

func TestWebhookFiredOnTerminalStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	q := New(cfg, NewWebhookDispatcher())
	q.SetProcessor(func(ctx context.Context, job *model.TradeJob) error { return nil })

	job, err := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 5, WebhookURL: srv.URL})
	require.NoError(t, err)

	claimed, token, ok := q.claim()
	require.True(t, ok)
	require.Equal(t, job.ID, claimed.ID)
	q.settle(claimed.ID, token, nil)

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookFailureDoesNotAlterJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	q := New(cfg, NewWebhookDispatcher())

	job, _ := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 5, WebhookURL: srv.URL})
	claimed, token, _ := q.claim()
	q.settle(claimed.ID, token, nil)

	stored, _ := q.Get(job.ID)
	assert.Equal(t, model.JobCompleted, stored.Status)
}

func TestWorkerLoopProcessesJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	q := New(cfg, nil)

	var processed atomic.Int32
	q.SetProcessor(func(ctx context.Context, job *model.TradeJob) error {
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	job, err := q.Enqueue(model.JobPayload{TradeID: "t1"}, EnqueueOptions{Priority: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, ok := q.Get(job.ID)
		return ok && stored.Status == model.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), processed.Load())
}
