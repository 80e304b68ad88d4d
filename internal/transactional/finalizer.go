package transactional

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/patterns"
	"github.com/ashendes/transactional-rest/internal/storage"
)

// FinalizerOptions configures the background store queue
type FinalizerOptions struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	MaxWriters int
	// DropOnShutdown drops queued transactions on Close instead of
	// draining them
	DropOnShutdown bool
}

// Finalizer stores transactions in the background, after the response
// has been sent. Store failures are logged and counted, never returned.
type Finalizer struct {
	storage  storage.Storage
	opts     FinalizerOptions
	bulkhead *patterns.Bulkhead
	log      log.FieldLogger

	queue  chan *models.Transaction
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewFinalizer starts the workers storing into s
func NewFinalizer(s storage.Storage, opts FinalizerOptions, logger log.FieldLogger) *Finalizer {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = patterns.StorageTimeout
	}
	if opts.MaxWriters <= 0 {
		opts.MaxWriters = opts.Workers
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Finalizer{
		storage:  s,
		opts:     opts,
		bulkhead: patterns.NewBulkhead(opts.MaxWriters, 0, "storage", "finalizer"),
		log:      logger,
		queue:    make(chan *models.Transaction, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
	return f
}

// Enqueue schedules tx for storage. It blocks while the queue is full;
// after Close the transaction is stored synchronously.
func (f *Finalizer) Enqueue(tx *models.Transaction) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		// the worker context may be cancelled by a Close deadline
		f.store(context.Background(), tx)
		return
	}
	f.queue <- tx
	metrics.FinalizeQueueDepth.Inc()
	f.mu.RUnlock()
}

func (f *Finalizer) worker() {
	defer f.wg.Done()
	for tx := range f.queue {
		metrics.FinalizeQueueDepth.Dec()
		f.store(f.ctx, tx)
	}
}

func (f *Finalizer) store(parent context.Context, tx *models.Transaction) {
	logger := f.log.WithFields(log.Fields{
		"transaction_id": tx.ID,
		"model":          tx.Model,
		"related_route":  tx.RelatedRoute,
	})
	defer func() {
		if p := recover(); p != nil {
			metrics.TransactionsFinalized.WithLabelValues("failed").Inc()
			logger.WithField("panic", fmt.Sprint(p)).Error("Transaction storage panicked")
		}
	}()

	ctx, cancel := patterns.WithTimeout(parent, f.opts.Timeout)
	defer cancel()

	err := f.bulkhead.Execute(ctx, func() error {
		return storage.Store(ctx, f.storage, tx)
	})
	if err != nil {
		metrics.TransactionsFinalized.WithLabelValues("failed").Inc()
		logger.WithError(err).Error("Failed to finalize transaction")
		return
	}
	metrics.TransactionsFinalized.WithLabelValues("persisted").Inc()
	logger.Debug("Transaction finalized")
}

// Close stops intake and drains the queue. With DropOnShutdown the queued
// transactions are dropped and counted instead. If ctx expires first, in
// flight writes are cancelled. Transactions enqueued afterwards are still
// stored, each bounded by the store timeout.
func (f *Finalizer) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.opts.DropOnShutdown {
		f.drop()
	}
	close(f.queue)
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		f.cancel()
		<-done
		return fmt.Errorf("drain finalize queue: %w", ctx.Err())
	}
}

func (f *Finalizer) drop() {
	dropped := 0
	for {
		select {
		case tx := <-f.queue:
			dropped++
			metrics.FinalizeQueueDepth.Dec()
			metrics.TransactionsDropped.Inc()
			f.log.WithField("transaction_id", tx.ID).Warn("Dropping transaction on shutdown")
		default:
			if dropped > 0 {
				f.log.WithField("dropped", dropped).Warn("Finalize queue dropped on shutdown")
			}
			return
		}
	}
}
