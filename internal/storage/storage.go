// Package storage persists finalized transactions.
//
// Every backend stages transactions on Persist and flushes all staged
// transactions on Write, so one Write can commit transactions persisted by
// several requests. A batch is committed atomically. When it fails, its
// transactions are retried one by one; those the backend keeps rejecting
// are dead-lettered so they never hold back the rest.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
)

// Driver names accepted by Open
const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverRedis     = "redis"
	DriverCollector = "collector"
)

var (
	// ErrUnknownDriver is returned by Open for unsupported drivers
	ErrUnknownDriver = errors.New("unknown storage driver")
	// ErrPending means a transaction is staged and no write was attempted
	ErrPending = errors.New("transaction not written yet")
	// ErrDiscarded means a transaction was given up without being written
	ErrDiscarded = errors.New("transaction discarded")
	// ErrRejected marks a Write where the backend took part of the batch and
	// refused the rest
	ErrRejected = errors.New("transactions rejected by backend")
)

// Storage is the durable home of finalized transactions
type Storage interface {
	Persist(ctx context.Context, tx *models.Transaction) error
	Write(ctx context.Context) error
}

// Backend is a Storage owning resources that must be released
type Backend interface {
	Storage
	io.Closer
	Name() string
}

// Settler is a Storage that can tell whether a persisted transaction has
// been written
type Settler interface {
	Settled(tx *models.Transaction) error
}

// Store persists tx and flushes it. Since a Write flushes every staged
// transaction, the outcome is taken from the backend's record of tx when
// it keeps one, not from whichever batch the Write happened to carry.
func Store(ctx context.Context, s Storage, tx *models.Transaction) error {
	start := time.Now()
	defer func() {
		metrics.StorageWriteDuration.WithLabelValues(backendName(s)).Observe(time.Since(start).Seconds())
	}()

	if err := s.Persist(ctx, tx); err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	err := s.Write(ctx)
	if settler, ok := s.(Settler); ok {
		serr := settler.Settled(tx)
		if errors.Is(serr, ErrPending) && err != nil {
			serr = err
		}
		err = serr
	}
	if err != nil {
		return fmt.Errorf("write transaction %s: %w", tx.ID, err)
	}
	return nil
}

func backendName(s Storage) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

// Options selects and configures a backend
type Options struct {
	Driver       string
	PostgresDSN  string
	RedisAddr    string
	RedisKey     string
	CollectorURL string
	Timeout      time.Duration
	MaxPending   int
}

// Open creates the backend named by opts.Driver
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemory(opts.MaxPending), nil
	case DriverPostgres:
		p, err := OpenPostgres(opts.PostgresDSN, opts.MaxPending)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	case DriverRedis:
		r, err := OpenRedis(ctx, opts.RedisAddr, opts.RedisKey, opts.MaxPending)
		if err != nil {
			return nil, err
		}
		return r, nil
	case DriverCollector:
		return NewCollector(opts.CollectorURL, opts.Timeout, opts.MaxPending), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

const (
	defaultMaxPending = 10000
	// maxStrikes is how many times a transaction may fail on its own, while
	// the rest of its batch commits, before it is dead-lettered
	maxStrikes     = 3
	maxDeadLetters = 100
)

// stage holds persisted transactions until the next Write. A batch that
// fails is retried one transaction at a time, so a transaction the backend
// keeps rejecting is dead-lettered instead of holding back the others.
type stage struct {
	// flushMu serializes flushes, so a Write always sees the outcome of
	// the flush before it
	flushMu sync.Mutex

	mu        sync.Mutex
	pending   []*entry
	staged    map[*models.Transaction]*entry
	discarded map[*models.Transaction]error
	dead      []*models.Transaction
	max       int
}

type entry struct {
	tx      *models.Transaction
	strikes int
	err     error
}

type failure struct {
	entry *entry
	err   error
}

func newStage(max int) stage {
	if max <= 0 {
		max = defaultMaxPending
	}
	return stage{
		max:       max,
		staged:    make(map[*models.Transaction]*entry),
		discarded: make(map[*models.Transaction]error),
	}
}

// add stages tx and seals it. A transaction that cannot be encoded is
// rejected up front and left unsealed.
func (s *stage) add(tx *models.Transaction) error {
	if tx == nil {
		return errors.New("nil transaction")
	}
	if _, err := json.Marshal(tx); err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.max {
		return fmt.Errorf("staging area full (%d pending)", len(s.pending))
	}
	if _, ok := s.staged[tx]; ok {
		return fmt.Errorf("transaction %s is already staged", tx.ID)
	}
	e := &entry{tx: tx}
	s.pending = append(s.pending, e)
	s.staged[tx] = e
	delete(s.discarded, tx)
	tx.Seal()
	return nil
}

func (s *stage) take() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

func (s *stage) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// flushWith hands the staged batch to flush. When the batch fails it is
// split and every transaction is flushed on its own.
func (s *stage) flushWith(ctx context.Context, flush func(context.Context, []*models.Transaction) error) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	batch := s.take()
	if len(batch) == 0 {
		return nil
	}
	txs := make([]*models.Transaction, len(batch))
	for i, e := range batch {
		txs[i] = e.tx
	}

	err := flush(ctx, txs)
	if err == nil {
		s.settle(batch)
		return nil
	}
	if len(batch) == 1 || ctx.Err() != nil {
		failed := make([]failure, len(batch))
		for i, e := range batch {
			failed[i] = failure{entry: e, err: err}
		}
		return s.retry(failed, false)
	}

	var (
		failed    []failure
		committed []*entry
	)
	for _, e := range batch {
		if ferr := flush(ctx, []*models.Transaction{e.tx}); ferr != nil {
			failed = append(failed, failure{entry: e, err: ferr})
			continue
		}
		committed = append(committed, e)
	}
	s.settle(committed)
	if len(failed) == 0 {
		return nil
	}
	// the backend took the others, so the failures belong to the
	// transactions themselves
	isolated := len(committed) > 0 && ctx.Err() == nil
	return s.retry(failed, isolated)
}

func (s *stage) settle(committed []*entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range committed {
		delete(s.staged, e.tx)
	}
}

// retry puts failed transactions back in front of newer ones. Isolated
// failures count as strikes; a transaction out of strikes is dead-lettered.
// The oldest transactions are discarded when the staging area overflows.
func (s *stage) retry(failed []failure, isolated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make([]error, 0, len(failed))
	keep := make([]*entry, 0, len(failed))
	for _, f := range failed {
		e := f.entry
		e.err = f.err
		errs = append(errs, fmt.Errorf("transaction %s: %w", e.tx.ID, f.err))
		if isolated {
			e.strikes++
		}
		if e.strikes >= maxStrikes {
			s.discard(e, fmt.Errorf("%w after %d attempts: %v", ErrDiscarded, e.strikes, f.err))
			continue
		}
		keep = append(keep, e)
	}

	merged := append(keep, s.pending...)
	if over := len(merged) - s.max; over > 0 {
		for _, e := range merged[:over] {
			s.discard(e, fmt.Errorf("%w: staging area overflowed", ErrDiscarded))
		}
		merged = merged[over:]
	}
	s.pending = merged

	err := errors.Join(errs...)
	if isolated {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return err
}

// discard must be called with mu held
func (s *stage) discard(e *entry, reason error) {
	delete(s.staged, e.tx)
	if len(s.discarded) >= s.max {
		s.discarded = make(map[*models.Transaction]error)
	}
	s.discarded[e.tx] = reason
	if len(s.dead) >= maxDeadLetters {
		s.dead = s.dead[1:]
	}
	s.dead = append(s.dead, e.tx)
	metrics.TransactionsDiscarded.Inc()
}

// Settled reports the outcome of a persisted transaction: nil once it is
// written, ErrPending while it waits for its first write, the last write
// error while it waits for a retry, and ErrDiscarded when it was given up.
// A discarded transaction is reported once.
func (s *stage) Settled(tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.staged[tx]; ok {
		if e.err == nil {
			return ErrPending
		}
		return e.err
	}
	if err, ok := s.discarded[tx]; ok {
		delete(s.discarded, tx)
		return err
	}
	return nil
}

// DeadLetters returns the most recently discarded transactions
func (s *stage) DeadLetters() []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Transaction(nil), s.dead...)
}
