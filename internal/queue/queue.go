// Package queue implements the priority trade queue: lease-based
// dispatch, a fixed retry backoff ladder, and best-effort terminal
// webhooks. Jobs live in an owned registry guarded by the queue's own
// mutex; this is deliberately not a general message broker.
package queue

import (
	"context"
	"fmt"
	"time"

	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
)

// Processor handles one leased job. A nil return completes the job;
// an error re-enqueues it per the backoff ladder.
type Processor func(ctx context.Context, job *model.TradeJob) error

type Config struct {
	Workers       int
	MaxAttempts   int
	Lease         time.Duration
	MaxStalls     int
	VIPBand       int // flagged submitters are clamped into [1, VIPBand]
	BackoffLadder []time.Duration
	PollInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:     4,
		MaxAttempts: 5,
		Lease:       2 * time.Minute,
		MaxStalls:   3,
		VIPBand:     2,
		BackoffLadder: []time.Duration{
			1 * time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second,
		},
		PollInterval: 250 * time.Millisecond,
	}
}

// EnqueueOptions 入队参数
type EnqueueOptions struct {
	Priority   int
	WebhookURL string
	VIP        bool
	Submitter  string
}

type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*model.TradeJob
	seq     map[string]uint64 // enqueue order, FIFO inside a priority band
	nextSeq uint64

	cfg       Config
	processor Processor
	webhooks  *WebhookDispatcher

	now func() time.Time
	log *slog.Logger
}

func New(cfg Config, webhooks *WebhookDispatcher) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if len(cfg.BackoffLadder) == 0 {
		cfg.BackoffLadder = DefaultConfig().BackoffLadder
	}
	return &Queue{
		jobs:     make(map[string]*model.TradeJob),
		seq:      make(map[string]uint64),
		cfg:      cfg,
		webhooks: webhooks,
		now:      time.Now,
		log:      logger.Component("queue"),
	}
}

// SetProcessor registers the processing callback. Must be called
// before Start.
func (q *Queue) SetProcessor(p Processor) {
	q.processor = p
}

// Enqueue admits a new waiting job. Priority is clamped to [1,10];
// flagged (VIP) submitters are lifted into the high-priority band.
func (q *Queue) Enqueue(payload model.JobPayload, opts EnqueueOptions) (*model.TradeJob, error) {
	if payload.TradeID == "" && len(payload.Batch) == 0 {
		return nil, fmt.Errorf("empty job payload")
	}

	prio := opts.Priority
	if prio < 1 {
		prio = 1
	}
	if prio > 10 {
		prio = 10
	}
	if opts.VIP && prio > q.cfg.VIPBand {
		prio = q.cfg.VIPBand
	}

	now := q.now()
	job := &model.TradeJob{
		ID:          uuid.New().String(),
		Priority:    prio,
		Payload:     payload,
		MaxAttempts: q.cfg.MaxAttempts,
		Status:      model.JobWaiting,
		WebhookURL:  opts.WebhookURL,
		SubmitterID: opts.Submitter,
		NextRunAt:   now,
		EnqueuedAt:  now,
	}

	q.mu.Lock()
	q.nextSeq++
	q.jobs[job.ID] = job
	q.seq[job.ID] = q.nextSeq
	q.mu.Unlock()

	if opts.WebhookURL != "" && q.webhooks != nil {
		q.webhooks.Register(job.ID, opts.WebhookURL)
	}
	metrics.QueueDepth.Inc()
	q.log.Info("job enqueued", "job_id", job.ID, "priority", prio, "vip", opts.VIP)
	return q.copyOf(job), nil
}

// Get returns a snapshot of the job.
func (q *Queue) Get(id string) (*model.TradeJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return q.copyOf(job), true
}

// Start launches the worker loops and the lease reaper.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		go q.workerLoop(ctx)
	}
	go q.reaperLoop(ctx)
}

func (q *Queue) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, token, ok := q.claim()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.cfg.PollInterval):
			}
			continue
		}
		q.process(ctx, job, token)
	}
}

// claim leases the highest-priority waiting job whose backoff has
// elapsed. Attempts count leases, so the backoff ladder is indexed by
// the attempt that just failed.
func (q *Queue) claim() (*model.TradeJob, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var best *model.TradeJob
	for _, job := range q.jobs {
		if job.Status != model.JobWaiting || job.NextRunAt.After(now) {
			continue
		}
		if best == nil ||
			job.Priority < best.Priority ||
			(job.Priority == best.Priority && q.seq[job.ID] < q.seq[best.ID]) {
			best = job
		}
	}
	if best == nil {
		return nil, "", false
	}

	best.Status = model.JobActive
	best.Attempts++
	best.LeaseToken = uuid.New().String()
	best.LeaseExpiresAt = now.Add(q.cfg.Lease)
	return q.copyOf(best), best.LeaseToken, true
}

func (q *Queue) process(ctx context.Context, job *model.TradeJob, token string) {
	procCtx, cancel := context.WithTimeout(ctx, q.cfg.Lease)
	defer cancel()

	err := q.processor(procCtx, job)
	q.settle(job.ID, token, err)
}

// settle applies the processor outcome, unless the lease was lost to
// the reaper in the meantime.
func (q *Queue) settle(jobID, token string, procErr error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.JobActive || job.LeaseToken != token {
		q.mu.Unlock()
		q.log.Warn("stale lease result dropped", "job_id", jobID)
		return
	}

	var terminal *model.TradeJob
	attempts := job.Attempts
	if procErr == nil {
		job.Status = model.JobCompleted
		job.LeaseToken = ""
		terminal = q.copyOf(job)
	} else {
		job.LastError = procErr.Error()
		job.LeaseToken = ""
		if job.Attempts >= job.MaxAttempts {
			job.Status = model.JobFailed
			terminal = q.copyOf(job)
		} else {
			job.Status = model.JobWaiting
			job.NextRunAt = q.now().Add(q.backoff(job.Attempts))
		}
	}
	q.mu.Unlock()

	if terminal != nil {
		q.finish(terminal)
	} else {
		q.log.Warn("job attempt failed, re-enqueued", "job_id", jobID, "attempts", attempts, "error", procErr)
	}
}

// backoff returns the ladder delay after the given (1-based) failed
// attempt, saturating at the last rung.
func (q *Queue) backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(q.cfg.BackoffLadder) {
		idx = len(q.cfg.BackoffLadder) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return q.cfg.BackoffLadder[idx]
}

func (q *Queue) reaperLoop(ctx context.Context) {
	interval := q.cfg.Lease / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reapExpired()
		}
	}
}

// reapExpired returns stalled jobs (expired lease, processor crash or
// hang) to waiting, up to the stall bound.
func (q *Queue) reapExpired() {
	q.mu.Lock()
	now := q.now()
	var failed []*model.TradeJob
	for _, job := range q.jobs {
		if job.Status != model.JobActive || job.LeaseExpiresAt.After(now) {
			continue
		}
		job.Stalls++
		job.LeaseToken = ""
		if job.Stalls > q.cfg.MaxStalls {
			job.Status = model.JobFailed
			job.LastError = "lease expired too many times"
			failed = append(failed, q.copyOf(job))
			continue
		}
		job.Status = model.JobWaiting
		job.NextRunAt = now
		q.log.Warn("lease expired, job returned to waiting", "job_id", job.ID, "stalls", job.Stalls)
	}
	q.mu.Unlock()

	for _, job := range failed {
		q.finish(job)
	}
}

// finish records a terminal job and fires the best-effort webhook.
// Webhook failure never alters job status.
func (q *Queue) finish(job *model.TradeJob) {
	metrics.QueueJobs.WithLabelValues(string(job.Status)).Inc()
	metrics.QueueDepth.Dec()
	q.log.Info("job finished", "job_id", job.ID, "status", job.Status, "attempts", job.Attempts)
	if q.webhooks != nil {
		q.webhooks.Notify(job.ID, "job."+string(job.Status), job)
	}
}

func (q *Queue) copyOf(job *model.TradeJob) *model.TradeJob {
	cp := *job
	return &cp
}
