package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is an in-process queue with a single worker. Failed jobs are
// re-queued after the policy delay. Jobs do not survive a restart.
type MemoryQueue struct {
	jobs   chan Job
	policy RetryPolicy

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewMemoryQueue(size int, policy RetryPolicy) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		jobs:   make(chan Job, size),
		policy: policy,
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, productID uint) error {
	return q.put(ctx, NewJob(productID))
}

func (q *MemoryQueue) put(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker; it returns immediately.
func (q *MemoryQueue) Start(ctx context.Context, h Handler) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case job := <-q.jobs:
				q.run(ctx, h, job)
			}
		}
	}()
}

func (q *MemoryQueue) run(ctx context.Context, h Handler, job Job) {
	err := h(ctx, job)
	if err == nil {
		return
	}

	logger := log.With().Uint("product_id", job.ProductID).Int("attempt", job.Attempt).Logger()
	if !q.policy.ShouldRetry(job.Attempt) {
		logger.Error().Err(err).Msg("push job exhausted its retries")
		return
	}

	delay := q.policy.Delay(job.Attempt)
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("push job failed, scheduling retry")
	q.schedule(delay, job.Next())
}

func (q *MemoryQueue) schedule(delay time.Duration, job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		if err := q.put(context.Background(), job); err != nil {
			log.Warn().Err(err).Uint("product_id", job.ProductID).Msg("dropping retry")
		}
	})
	q.timers[timer] = struct{}{}
}

// Close stops the worker and drops pending retries.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
