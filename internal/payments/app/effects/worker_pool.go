package effects

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/metrics"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

var (
	// ErrQueueFull is returned when the in-process buffer cannot take another task.
	ErrQueueFull = errors.New("side effect queue is full")
	// ErrQueueClosed is returned after Shutdown.
	ErrQueueClosed = errors.New("side effect queue is closed")
)

// TaskRunner executes one confirmed-order task.
type TaskRunner interface {
	Run(ctx context.Context, task ports.ConfirmedOrderTask) error
}

// RetryPolicy bounds how hard a worker tries before giving up on a task.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	TaskTimeout     time.Duration
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
	TaskTimeout:     30 * time.Second,
}

// WorkerPool is an in-process SideEffectQueue with a fixed number of workers.
type WorkerPool struct {
	runner  TaskRunner
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics

	tasks   chan ports.ConfirmedOrderTask
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
	stop    sync.Once
}

func NewWorkerPool(runner TaskRunner, workers, buffer int, policy RetryPolicy, logger *slog.Logger, m *metrics.Metrics) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy
	}

	p := &WorkerPool{
		runner:  runner,
		policy:  policy,
		logger:  logger,
		metrics: m,
		tasks:   make(chan ports.ConfirmedOrderTask, buffer),
		stopped: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Enqueue never blocks; a full buffer is reported to the caller.
func (p *WorkerPool) Enqueue(_ context.Context, task ports.ConfirmedOrderTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to drain or ctx to expire.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.stop.Do(func() { close(p.stopped) })
		return ctx.Err()
	}
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		err := Process(context.Background(), p.runner, task, p.policy, p.stopped)
		if p.metrics != nil {
			p.metrics.RecordSideEffects(context.Background(), err == nil)
		}
		if err != nil {
			p.logger.Error("post-confirmation side effects failed",
				"order_id", task.OrderID,
				"event_id", task.EventID,
				"error", err,
			)
		}
	}
}

// Process runs a task with bounded exponential retries. Closing stop abandons remaining retries.
func Process(ctx context.Context, runner TaskRunner, task ports.ConfirmedOrderTask, policy RetryPolicy, stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = 0

	attempt := task.Attempt
	operation := func() error {
		attempt++
		task.Attempt = attempt
		runCtx := ctx
		if policy.TaskTimeout > 0 {
			var cancelRun context.CancelFunc
			runCtx, cancelRun = context.WithTimeout(ctx, policy.TaskTimeout)
			defer cancelRun()
		}
		return runner.Run(runCtx, task)
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(eb, policy.MaxRetries), ctx))
}
