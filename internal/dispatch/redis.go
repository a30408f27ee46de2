package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisQueue keeps jobs in a sorted set scored by due time (unix ms). Workers
// claim a job by removing it from the set, so any number of processes can
// share one key. Jobs that exhaust the retry policy land in <key>:dead.
type RedisQueue struct {
	client *redis.Client
	key    string
	policy RetryPolicy
	poll   time.Duration
	batch  int64
	now    func() time.Time
}

// NewRedisQueue connects to addr and checks the connection
func NewRedisQueue(addr, password string, db int, key string, policy RetryPolicy) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisQueue{
		client: client,
		key:    key,
		policy: policy,
		poll:   time.Second,
		batch:  10,
		now:    time.Now,
	}, nil
}

func (q *RedisQueue) deadKey() string {
	return q.key + ":dead"
}

func dueScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *RedisQueue) Enqueue(ctx context.Context, productID uint) error {
	return q.add(ctx, NewJob(productID), q.now())
}

func (q *RedisQueue) add(ctx context.Context, job Job, due time.Time) error {
	member, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, q.key, redis.Z{Score: dueScore(due), Member: member}).Err(); err != nil {
		return fmt.Errorf("enqueue product %d: %w", job.ProductID, err)
	}
	return nil
}

// Start polls for due jobs until ctx is canceled; it returns immediately.
func (q *RedisQueue) Start(ctx context.Context, h Handler) {
	go func() {
		log.Info().Str("key", q.key).Dur("poll", q.poll).Msg("redis push queue started")

		ticker := time.NewTicker(q.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("key", q.key).Msg("redis push queue stopped")
				return
			case <-ticker.C:
				q.drain(ctx, h)
			}
		}
	}()
}

func (q *RedisQueue) drain(ctx context.Context, h Handler) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		log.Error().Err(err).Msg("failed to read due push jobs")
		return
	}

	for _, member := range members {
		claimed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil || claimed == 0 {
			// another worker got it
			continue
		}

		job, err := decodeJob([]byte(member))
		if err != nil {
			log.Error().Err(err).Msg("dropping malformed push job")
			q.client.LPush(ctx, q.deadKey(), member)
			continue
		}

		q.run(ctx, h, job, member)
	}
}

func (q *RedisQueue) run(ctx context.Context, h Handler, job Job, member string) {
	err := h(ctx, job)
	if err == nil {
		return
	}

	logger := log.With().Uint("product_id", job.ProductID).Int("attempt", job.Attempt).Logger()
	if !q.policy.ShouldRetry(job.Attempt) {
		logger.Error().Err(err).Msg("push job exhausted its retries")
		if err := q.client.LPush(ctx, q.deadKey(), member).Err(); err != nil {
			logger.Error().Err(err).Msg("failed to dead-letter push job")
		}
		return
	}

	delay := q.policy.Delay(job.Attempt)
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("push job failed, scheduling retry")
	if err := q.add(ctx, job.Next(), q.now().Add(delay)); err != nil {
		logger.Error().Err(err).Msg("failed to reschedule push job")
	}
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
