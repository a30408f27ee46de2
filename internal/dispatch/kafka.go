package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaQueue publishes jobs to a topic keyed by product id, so pushes for one
// product stay on one partition. The consumer retries a failing job in place
// per the policy and commits the offset only once the job is settled.
type KafkaQueue struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	group   string
	policy  RetryPolicy
	settled *recentJobs

	// wait after a failed fetch
	fetchBackoff time.Duration
}

func NewKafkaQueue(brokers []string, topic, group string, policy RetryPolicy) (*KafkaQueue, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka queue needs brokers and a topic")
	}
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		brokers: brokers,
		topic:   topic,
		group:   group,
		policy:  policy,
		settled: newRecentJobs(dedupeWindow),

		fetchBackoff: 2 * time.Second,
	}, nil
}

func (q *KafkaQueue) Enqueue(ctx context.Context, productID uint) error {
	value, err := encodeJob(NewJob(productID))
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(productID), 10)),
		Value: value,
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish push for product %d: %w", productID, err)
	}
	return nil
}

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Start consumes until ctx is canceled; it returns immediately.
func (q *KafkaQueue) Start(ctx context.Context, h Handler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        q.brokers,
		GroupID:        q.group,
		Topic:          q.topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	go q.consume(ctx, r, h)
}

// consume runs until ctx is canceled. An offset is committed only after its
// job settled, was malformed, or was already settled by this consumer.
func (q *KafkaQueue) consume(ctx context.Context, r messageReader, h Handler) {
	defer r.Close()
	log.Info().Str("topic", q.topic).Str("group", q.group).Msg("kafka push consumer started")

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("topic", q.topic).Msg("kafka push consumer stopped")
				return
			}
			log.Error().Err(err).Dur("retry_in", q.fetchBackoff).Msg("kafka fetch failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.fetchBackoff):
			}
			continue
		}

		job, err := decodeJob(m.Value)
		if err != nil {
			log.Error().Err(err).Int64("offset", m.Offset).Msg("skipping malformed push job")
		} else if q.settled.Seen(job.ID) {
			log.Debug().Str("job_id", job.ID).Msg("skipping redelivered push job")
		} else if !q.settle(ctx, h, job) {
			// canceled mid-retry: leave the offset uncommitted for redelivery
			return
		} else {
			q.settled.Settle(job.ID)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Error().Err(err).Int64("offset", m.Offset).Msg("kafka commit failed")
		}
	}
}

// settle runs job until it succeeds or exhausts the policy. It returns false
// when ctx was canceled before the job settled.
func (q *KafkaQueue) settle(ctx context.Context, h Handler, job Job) bool {
	for {
		err := h(ctx, job)
		if err == nil {
			return true
		}

		logger := log.With().Uint("product_id", job.ProductID).Int("attempt", job.Attempt).Logger()
		if !q.policy.ShouldRetry(job.Attempt) {
			logger.Error().Err(err).Msg("push job exhausted its retries")
			return true
		}

		delay := q.policy.Delay(job.Attempt)
		logger.Warn().Err(err).Dur("retry_in", delay).Msg("push job failed, retrying")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		job = job.Next()
	}
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
