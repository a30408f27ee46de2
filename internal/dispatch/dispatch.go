// Package dispatch runs product pushes outside the request that triggered
// them. Delivery is at-least-once: a handler may see the same product more
// than once and jobs carry no ordering guarantee.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotStarted = errors.New("dispatcher has no handler")

// Job asks for one push of a product
type Job struct {
	ID         string    `json:"id"`
	ProductID  uint      `json:"product_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob builds the first attempt for productID
func NewJob(productID uint) Job {
	return Job{
		ID:         uuid.NewString(),
		ProductID:  productID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Next returns the job for the following attempt
func (j Job) Next() Job {
	j.Attempt++
	return j
}

func encodeJob(j Job) ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return j, fmt.Errorf("decode job: %w", err)
	}
	if j.ProductID == 0 {
		return j, errors.New("decode job: missing product_id")
	}
	if j.Attempt < 1 {
		j.Attempt = 1
	}
	return j, nil
}

// Handler runs one job. A non-nil error asks for a retry.
type Handler func(ctx context.Context, job Job) error

// Dispatcher accepts push requests
type Dispatcher interface {
	Enqueue(ctx context.Context, productID uint) error
}

// Queue is a Dispatcher that also runs the jobs it accepts
type Queue interface {
	Dispatcher
	Start(ctx context.Context, h Handler)
	Close() error
}

// RetryPolicy bounds redelivery of failed jobs
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultRetryPolicy is three attempts with 60s, 180s and 360s gaps
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{60 * time.Second, 180 * time.Second, 360 * time.Second},
	}
}

// ShouldRetry reports whether a job that just failed its attempt-th try gets another one
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay is the wait after the attempt-th failure
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}
