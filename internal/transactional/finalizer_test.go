package transactional

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/storage"
)

// gatedStorage blocks every persist until released
type gatedStorage struct {
	entered chan string
	release chan struct{}

	mu     sync.Mutex
	stored []string
}

func newGatedStorage() *gatedStorage {
	return &gatedStorage{entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedStorage) Persist(ctx context.Context, tx *models.Transaction) error {
	g.entered <- tx.ID
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.stored = append(g.stored, tx.ID)
	g.mu.Unlock()
	return nil
}

func (g *gatedStorage) Write(context.Context) error { return nil }

func (g *gatedStorage) ids() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.stored...)
}

type panickingStorage struct{}

func (panickingStorage) Persist(context.Context, *models.Transaction) error { panic("driver bug") }
func (panickingStorage) Write(context.Context) error                       { return nil }

func TestFinalizerDrainsOnClose(t *testing.T) {
	gate := newGatedStorage()
	f := NewFinalizer(gate, FinalizerOptions{Workers: 1, Timeout: time.Minute}, nil)

	for _, id := range []string{"a", "b", "c"} {
		f.Enqueue(&models.Transaction{ID: id})
	}
	<-gate.entered

	done := make(chan error, 1)
	go func() { done <- f.Close(context.Background()) }()
	close(gate.release)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b", "c"}, gate.ids())
}

func TestFinalizerDropOnShutdown(t *testing.T) {
	logger, hook := test.NewNullLogger()
	gate := newGatedStorage()
	f := NewFinalizer(gate, FinalizerOptions{Workers: 1, Timeout: time.Minute, DropOnShutdown: true}, logger)
	before := testutil.ToFloat64(metrics.TransactionsDropped)

	f.Enqueue(&models.Transaction{ID: "a"})
	<-gate.entered
	f.Enqueue(&models.Transaction{ID: "b"})
	f.Enqueue(&models.Transaction{ID: "c"})

	done := make(chan error, 1)
	go func() { done <- f.Close(context.Background()) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TransactionsDropped) == before+2
	}, time.Second, 5*time.Millisecond)
	close(gate.release)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"a"}, gate.ids())
	assert.NotEmpty(t, hook.AllEntries())
}

func TestFinalizerCloseDeadlineCancelsWrites(t *testing.T) {
	gate := newGatedStorage()
	f := NewFinalizer(gate, FinalizerOptions{Workers: 1, Timeout: time.Minute}, nil)

	f.Enqueue(&models.Transaction{ID: "a"})
	<-gate.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, gate.ids())

	// closing twice is harmless
	assert.NoError(t, f.Close(context.Background()))
}

func TestFinalizerStoresSynchronouslyAfterClose(t *testing.T) {
	mem := storage.NewMemory(0)
	f := NewFinalizer(mem, FinalizerOptions{}, nil)
	require.NoError(t, f.Close(context.Background()))
	before := testutil.ToFloat64(metrics.TransactionsFinalized.WithLabelValues("persisted"))

	f.Enqueue(&models.Transaction{ID: "late"})

	_, ok := mem.Get("late")
	assert.True(t, ok)
	assert.Zero(t, mem.Pending())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TransactionsFinalized.WithLabelValues("persisted")))
}

func TestFinalizerStoresAfterCloseDeadline(t *testing.T) {
	gate := newGatedStorage()
	f := NewFinalizer(gate, FinalizerOptions{Workers: 1, Timeout: time.Minute}, nil)

	f.Enqueue(&models.Transaction{ID: "a"})
	<-gate.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Close(ctx), context.DeadlineExceeded)

	close(gate.release)
	f.Enqueue(&models.Transaction{ID: "late"})

	assert.Equal(t, []string{"late"}, gate.ids())
}

func TestFinalizerSurvivesStoragePanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := NewFinalizer(panickingStorage{}, FinalizerOptions{Workers: 1}, logger)

	f.Enqueue(&models.Transaction{ID: "a"})
	require.NoError(t, f.Close(context.Background()))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Transaction storage panicked", hook.LastEntry().Message)
}
