package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Inline runs each job synchronously inside Enqueue, once. Handler failures
// are logged and not returned: the product state and the audit log already
// carry them.
type Inline struct {
	mu      sync.RWMutex
	handler Handler
}

func NewInline() *Inline {
	return &Inline{}
}

func (d *Inline) Start(_ context.Context, h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *Inline) Enqueue(ctx context.Context, productID uint) error {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return ErrNotStarted
	}

	job := NewJob(productID)
	if err := h(ctx, job); err != nil {
		log.Warn().Err(err).Uint("product_id", productID).Msg("inline push failed")
	}
	return nil
}

func (d *Inline) Close() error { return nil }
