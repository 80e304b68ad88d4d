package storage

import (
	"context"
	"sync"

	"github.com/ashendes/transactional-rest/internal/models"
)

// Memory keeps committed transactions in process
type Memory struct {
	stage

	mu        sync.RWMutex
	committed []*models.Transaction
	byID      map[string]*models.Transaction
}

// NewMemory creates an empty in-memory backend
func NewMemory(maxPending int) *Memory {
	return &Memory{
		stage: newStage(maxPending),
		byID:  make(map[string]*models.Transaction),
	}
}

// Persist implements Storage
func (m *Memory) Persist(_ context.Context, tx *models.Transaction) error {
	return m.add(tx)
}

// Write implements Storage
func (m *Memory) Write(ctx context.Context) error {
	return m.flushWith(ctx, func(ctx context.Context, batch []*models.Transaction) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, tx := range batch {
			if _, exists := m.byID[tx.ID]; exists {
				continue
			}
			m.byID[tx.ID] = tx
			m.committed = append(m.committed, tx)
		}
		return nil
	})
}

// Get returns a committed transaction
func (m *Memory) Get(id string) (*models.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.byID[id]
	return tx, ok
}

// All returns committed transactions in commit order
func (m *Memory) All() []*models.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.Transaction(nil), m.committed...)
}

// Pending reports how many transactions are staged but not written
func (m *Memory) Pending() int {
	return m.size()
}

// Name implements Backend
func (m *Memory) Name() string { return DriverMemory }

// Close implements Backend
func (m *Memory) Close() error { return nil }
