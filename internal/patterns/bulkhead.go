package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/ashendes/transactional-rest/internal/metrics"
)

// Bulkhead implements the bulkhead pattern for resource isolation
type Bulkhead struct {
	semaphore chan struct{}
	wait      time.Duration
	name      string
	service   string
}

// NewBulkhead creates a new bulkhead with specified capacity. A caller waits
// at most wait for a slot; zero means wait until ctx is done.
func NewBulkhead(size int, wait time.Duration, name, service string) *Bulkhead {
	if size <= 0 {
		size = 1
	}
	return &Bulkhead{
		semaphore: make(chan struct{}, size),
		wait:      wait,
		name:      name,
		service:   service,
	}
}

// Execute runs a function within the bulkhead's resource limits
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	var timeout <-chan time.Time
	if b.wait > 0 {
		timer := time.NewTimer(b.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case b.semaphore <- struct{}{}:
		metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Inc()

		defer func() {
			<-b.semaphore
			metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Dec()
		}()

		return fn()

	case <-timeout:
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return fmt.Errorf("bulkhead %s: timeout acquiring resource", b.name)

	case <-ctx.Done():
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return fmt.Errorf("bulkhead %s: %w", b.name, ctx.Err())
	}
}

// GetName returns the bulkhead name
func (b *Bulkhead) GetName() string {
	return b.name
}
