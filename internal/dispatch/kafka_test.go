package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader serves fetch errors, then messages, then cancels the consumer
type scriptedReader struct {
	mu        sync.Mutex
	errs      []error
	msgs      []kafka.Message
	fetches   int
	committed []int64
	closed    bool
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		return m, nil
	}
	r.cancel()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func jobMessage(t *testing.T, offset int64, job Job) kafka.Message {
	t.Helper()
	value, err := encodeJob(job)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func newTestKafkaQueue(t *testing.T, policy RetryPolicy) *KafkaQueue {
	t.Helper()
	q, err := NewKafkaQueue([]string{"localhost:9092"}, "pricesync.test", "test", policy)
	require.NoError(t, err)
	q.fetchBackoff = time.Millisecond
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestKafkaConsume_CommitsAfterSettling(t *testing.T) {
	q := newTestKafkaQueue(t, RetryPolicy{MaxAttempts: 2, Backoff: []time.Duration{time.Millisecond}})

	flaky, broken := NewJob(1), NewJob(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		jobMessage(t, 0, flaky),
		{Offset: 1, Value: []byte("not a job")},
		jobMessage(t, 2, broken),
		jobMessage(t, 3, flaky), // redelivered after a lost commit
	}}

	attempts := map[uint][]int{}
	q.consume(ctx, r, func(_ context.Context, job Job) error {
		attempts[job.ProductID] = append(attempts[job.ProductID], job.Attempt)
		if job.ProductID == 1 && job.Attempt == 2 {
			return nil
		}
		return errors.New("odoo down")
	})

	assert.Equal(t, []int{1, 2}, attempts[1], "retried in place, then skipped on redelivery")
	assert.Equal(t, []int{1, 2}, attempts[2], "exhausted after MaxAttempts")
	assert.Equal(t, []int64{0, 1, 2, 3}, r.committed)
	assert.True(t, r.closed)
}

func TestKafkaConsume_CancelMidRetryLeavesOffset(t *testing.T) {
	q := newTestKafkaQueue(t, RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{jobMessage(t, 7, NewJob(5))}}

	calls := 0
	q.consume(ctx, r, func(context.Context, Job) error {
		calls++
		cancel()
		return errors.New("odoo down")
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, r.committed)
	assert.True(t, r.closed)
}

func TestKafkaConsume_BacksOffOnFetchErrors(t *testing.T) {
	q := newTestKafkaQueue(t, DefaultRetryPolicy())
	q.fetchBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := errors.New("dial tcp: connection refused")
	r := &scriptedReader{
		cancel: cancel,
		errs:   []error{broker, broker},
		msgs:   []kafka.Message{jobMessage(t, 0, NewJob(3))},
	}

	var handled []uint
	start := time.Now()
	q.consume(ctx, r, func(_ context.Context, job Job) error {
		handled = append(handled, job.ProductID)
		return nil
	})

	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 4, r.fetches)
	assert.Equal(t, []uint{3}, handled)
	assert.Equal(t, []int64{0}, r.committed)
}
