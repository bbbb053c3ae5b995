// Package queue runs enrichment jobs on a bounded worker pool fed by a
// durable Store, retrying failed jobs with exponential backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/core/domain"
)

// Handler processes one job delivery.
type Handler func(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error)

// CompleteFunc is called once per successfully handled job.
type CompleteFunc func(ctx context.Context, res domain.JobResult)

// FailedFunc is called for every failed attempt; final is set once retries are exhausted.
type FailedFunc func(ctx context.Context, job domain.Job, err error, final bool)

// Options configures a Queue.
type Options struct {
	Workers int
	// Backoff holds the attempt budget and the retry delay
	Backoff backoff.Exponential
	// PollInterval bounds how long a worker blocks on an empty store
	PollInterval time.Duration
}

// DefaultOptions returns 3 workers, 3 attempts and a 2s exponential backoff.
func DefaultOptions() Options {
	return Options{
		Workers:      3,
		Backoff:      backoff.Default(),
		PollInterval: time.Second,
	}
}

// Queue is a named job queue with a worker pool.
type Queue struct {
	name    string
	store   Store
	handler Handler
	opts    Options

	mu         sync.RWMutex
	onComplete CompleteFunc
	onFailed   FailedFunc
	started    bool

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
	log       *slog.Logger
}

// New creates a queue. Workers start on Start.
func New(name string, store Store, handler Handler, opts Options) *Queue {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Backoff.MaxAttempts <= 0 {
		opts.Backoff.MaxAttempts = def.Backoff.MaxAttempts
	}
	return &Queue{
		name:    name,
		store:   store,
		handler: handler,
		opts:    opts,
		stop:    make(chan struct{}),
		log:     slog.Default().With("component", "queue", "queue", name),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// OnComplete registers the completion callback.
func (q *Queue) OnComplete(fn CompleteFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = fn
}

// OnFailed registers the failure callback.
func (q *Queue) OnFailed(fn FailedFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailed = fn
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	workerCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		select {
		case <-q.stop:
		case <-workerCtx.Done():
		}
	}()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(workerCtx, i)
	}
	q.log.Info("Queue started", "workers", q.opts.Workers, "attempts", q.opts.Backoff.MaxAttempts)
}

// Submit enqueues jobs in one bulk call and returns the accepted ids.
// Ids still active in the store are rejected; that is reported as ErrDuplicate.
func (q *Queue) Submit(ctx context.Context, jobs []domain.Job) ([]string, error) {
	select {
	case <-q.stop:
		return nil, ErrClosed
	default:
	}

	envs := make([]Envelope, len(jobs))
	for i, job := range jobs {
		envs[i] = Envelope{Job: job}
	}
	accepted, err := q.store.Enqueue(ctx, envs)
	if err != nil {
		return accepted, fmt.Errorf("enqueue: %w", err)
	}
	if len(accepted) < len(jobs) {
		return accepted, fmt.Errorf("%w: %d of %d jobs rejected", ErrDuplicate, len(jobs)-len(accepted), len(jobs))
	}
	return accepted, nil
}

// Drain removes waiting and delayed jobs. In-flight jobs finish.
func (q *Queue) Drain(ctx context.Context) error {
	if err := q.store.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// Close stops the workers, waits for in-flight jobs and closes the store.
// It is safe to call more than once.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.stop)
		q.wg.Wait()
		q.closeErr = q.store.Close()
		q.log.Info("Queue closed")
	})
	return q.closeErr
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		env, err := q.store.Dequeue(ctx, q.opts.PollInterval)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return
			}
			q.log.Warn("Dequeue failed", "worker", id, "error", err)
			if backoff.Sleep(ctx, q.opts.PollInterval) != nil {
				return
			}
			continue
		}
		if env == nil {
			continue
		}

		// In-flight jobs are not cancelled by Close.
		q.process(context.WithoutCancel(ctx), *env)
	}
}

func (q *Queue) process(ctx context.Context, env Envelope) {
	job := env.Job
	attempt := env.Attempt + 1

	res, err := q.invoke(ctx, job)

	q.mu.RLock()
	onComplete, onFailed := q.onComplete, q.onFailed
	q.mu.RUnlock()

	if err == nil {
		// Release the id before the callback so a follow-up cycle can reuse it.
		if ackErr := q.store.Ack(ctx, job.ID); ackErr != nil {
			q.log.Warn("Ack failed", "job", job.ID, "error", ackErr)
		}
		if onComplete != nil {
			onComplete(ctx, domain.JobResult{Job: job, Enriched: res})
		}
		return
	}

	final := q.opts.Backoff.Exhausted(attempt)
	if final {
		if relErr := q.store.Release(ctx, job.ID); relErr != nil {
			q.log.Warn("Release failed", "job", job.ID, "error", relErr)
		}
		if onFailed != nil {
			onFailed(ctx, job, err, true)
		}
		return
	}

	if onFailed != nil {
		onFailed(ctx, job, err, false)
	}
	env.Attempt = attempt
	delay := q.opts.Backoff.Delay(attempt - 1)
	if schedErr := q.store.Schedule(ctx, env, time.Now().Add(delay)); schedErr != nil {
		q.log.Error("Failed to schedule retry", "job", job.ID, "error", schedErr)
		_ = q.store.Release(ctx, job.ID)
		if onFailed != nil {
			onFailed(ctx, job, fmt.Errorf("schedule retry: %w", schedErr), true)
		}
	}
}

// invoke runs the handler, converting a panic into an error.
func (q *Queue) invoke(ctx context.Context, job domain.Job) (res []domain.EnrichedTransaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(ctx, job)
}
