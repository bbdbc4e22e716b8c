package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/metrics"
	"github.com/ignite/tinymail/internal/pkg/logger"
	"github.com/ignite/tinymail/internal/queue"
)

// promoteBatch bounds how many delayed tasks one promoter tick moves.
const promoteBatch = 500

// TaskQueue is the consumer side of the dispatch queue. *queue.RedisQueue
// satisfies it.
type TaskQueue interface {
	Promote(ctx context.Context, now time.Time, limit int) (int, error)
	Claim(ctx context.Context, lease time.Duration) (*queue.Claimed, error)
	Ack(ctx context.Context, id string) error
	Reschedule(ctx context.Context, task *domain.DispatchTask, runAt time.Time) error
}

// TaskDispatcher runs one task. *Dispatcher satisfies it.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task *domain.DispatchTask) (Result, error)
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	ErrorRetry   time.Duration
	// MaxPerSecond paces sends across the pool. Zero disables pacing.
	MaxPerSecond float64
}

// Pool claims dispatch tasks and runs them with bounded concurrency. The
// pool owns re-enqueueing: deferred tasks and tasks that hit an
// infrastructure error go back to the queue with a delay.
type Pool struct {
	queue    TaskQueue
	dispatch TaskDispatcher
	cfg      PoolConfig
	pace     *rate.Limiter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sent     atomic.Int64
	deferred atomic.Int64
	failed   atomic.Int64
	errored  atomic.Int64

	now func() time.Time
}

// NewPool creates a pool. Zero config values fall back to one worker, a
// 500ms poll, a 5 minute lease and a one minute error retry.
func NewPool(q TaskQueue, d TaskDispatcher, cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.ErrorRetry <= 0 {
		cfg.ErrorRetry = time.Minute
	}
	p := &Pool{queue: q, dispatch: d, cfg: cfg, now: time.Now}
	if cfg.MaxPerSecond > 0 {
		burst := int(cfg.MaxPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.pace = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst)
	}
	return p
}

// Start launches the claim loops and the delayed-task promoter.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	logger.Info("worker pool: starting",
		"concurrency", p.cfg.Concurrency, "lease", p.cfg.Lease, "max_per_second", p.cfg.MaxPerSecond)

	p.wg.Add(1)
	go p.promoter(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Stop ends the claim loops and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	logger.Info("worker pool: stopping")
	p.wg.Wait()
	logger.Info("worker pool: stopped",
		"sent", p.sent.Load(), "deferred", p.deferred.Load(),
		"failed", p.failed.Load(), "errors", p.errored.Load())
}

// Stats returns counters since the pool was created.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"sent":     p.sent.Load(),
		"deferred": p.deferred.Load(),
		"failed":   p.failed.Load(),
		"errors":   p.errored.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, n int) {
	defer p.wg.Done()
	for ctx.Err() == nil {
		ok, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("worker pool: claim failed", "worker", n, "error", err)
		}
		if ok {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) promoter(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.Promote(ctx, p.now(), promoteBatch); err != nil && ctx.Err() == nil {
				logger.Error("worker pool: promote failed", "error", err)
			}
		}
	}
}

// RunOnce claims and runs a single task. It reports false when the queue
// had nothing ready.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	claimed, err := p.queue.Claim(ctx, p.cfg.Lease)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.pace != nil {
		if err := p.pace.Wait(ctx); err != nil {
			// shutting down before the task ran: hand it straight back
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			p.reschedule(rctx, &claimed.Task, 0)
			return true, nil
		}
	}
	p.handle(claimed)
	return true, nil
}

// handle runs detached from the pool context so a shutdown does not cut a
// send in half. The lease bounds it instead.
func (p *Pool) handle(c *queue.Claimed) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Lease)
	defer cancel()

	task := c.Task
	res, err := p.dispatch.Dispatch(ctx, &task)
	if errors.Is(err, ErrContactNotFound) {
		res, err = Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}
	if err != nil {
		p.errored.Add(1)
		metrics.DispatchOutcomes.WithLabelValues("error").Inc()
		logger.Error("worker pool: dispatch error, retrying later",
			"task_id", task.ID, "deliveries", c.Deliveries, "retry_in", p.cfg.ErrorRetry, "error", err)
		p.reschedule(ctx, &task, p.cfg.ErrorRetry)
		return
	}

	metrics.DispatchOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	switch res.Outcome {
	case OutcomeDeferred:
		p.deferred.Add(1)
		delay := res.RetryAfter
		if delay <= 0 {
			delay = p.cfg.ErrorRetry
		}
		p.reschedule(ctx, &task, delay)
		return
	case OutcomeSent:
		p.sent.Add(1)
	default:
		p.failed.Add(1)
		logger.Warn("worker pool: task failed", "task_id", task.ID, "mail_id", res.MailID, "reason", res.Reason)
	}
	if err := p.queue.Ack(ctx, task.ID); err != nil {
		logger.Error("worker pool: ack failed", "task_id", task.ID, "error", err)
	}
}

func (p *Pool) reschedule(ctx context.Context, task *domain.DispatchTask, delay time.Duration) {
	err := p.queue.Reschedule(ctx, task, p.now().Add(delay))
	switch {
	case errors.Is(err, queue.ErrNotFound):
		logger.Info("worker pool: task deleted while running", "task_id", task.ID)
	case err != nil:
		logger.Error("worker pool: reschedule failed", "task_id", task.ID, "error", err)
	}
}
