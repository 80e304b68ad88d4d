package storage

import (
	"context"
	"errors"

	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/patterns"
)

// Breaker guards the writes of a backend with a circuit breaker, so an
// unavailable backend fails fast instead of holding finalize workers
type Breaker struct {
	Backend
	cb *patterns.CircuitBreakerWrapper
}

// WithBreaker wraps b
func WithBreaker(b Backend, cb *patterns.CircuitBreakerWrapper) *Breaker {
	return &Breaker{Backend: b, cb: cb}
}

// Persist implements Storage
func (b *Breaker) Persist(ctx context.Context, tx *models.Transaction) error {
	return b.Backend.Persist(ctx, tx)
}

// Write implements Storage. A backend refusing single transactions while
// taking the rest is healthy and does not count against the breaker.
func (b *Breaker) Write(ctx context.Context) error {
	var rejected error
	err := b.cb.Run(func() error {
		err := b.Backend.Write(ctx)
		if errors.Is(err, ErrRejected) {
			rejected = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return rejected
}

// Settled implements Settler
func (b *Breaker) Settled(tx *models.Transaction) error {
	if s, ok := b.Backend.(Settler); ok {
		return s.Settled(tx)
	}
	return nil
}
