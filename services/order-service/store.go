package main

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
)

// statusError is an error carrying the HTTP status it maps to
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.status }

func notFound(format string, args ...any) error {
	return &statusError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &statusError{status: http.StatusConflict, msg: fmt.Sprintf(format, args...)}
}

// Inventory keeps stock levels in process
type Inventory struct {
	mu    sync.Mutex
	items map[string]*models.Item
}

// NewInventory creates an inventory stocked with items
func NewInventory(items ...models.Item) *Inventory {
	inv := &Inventory{items: make(map[string]*models.Item, len(items))}
	for _, item := range items {
		item := item
		inv.items[item.ID] = &item
		metrics.InventoryLevel.WithLabelValues(item.ID).Set(float64(item.Quantity))
	}
	return inv
}

func sampleItems() []models.Item {
	return []models.Item{
		{ID: "item-1", Name: "Laptop", Quantity: 10000, Price: 999.99},
		{ID: "item-2", Name: "Mouse", Quantity: 50000, Price: 29.99},
		{ID: "item-3", Name: "Keyboard", Quantity: 30000, Price: 79.99},
		{ID: "item-4", Name: "Monitor", Quantity: 15000, Price: 299.99},
		{ID: "item-5", Name: "Headphones", Quantity: 2000, Price: 149.99},
	}
}

// Get returns a copy of an item
func (inv *Inventory) Get(id string) (models.Item, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	item, ok := inv.items[id]
	if !ok {
		return models.Item{}, false
	}
	return *item, true
}

// Reserve deducts all requested quantities or none of them
func (inv *Inventory) Reserve(lines []models.OrderItem) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, line := range lines {
		item, exists := inv.items[line.ItemID]
		if !exists {
			return notFound("item not found: %s", line.ItemID)
		}
		if item.Quantity < line.Quantity {
			return conflict("insufficient inventory for item: %s", line.ItemID)
		}
	}

	for _, line := range lines {
		item := inv.items[line.ItemID]
		item.Quantity -= line.Quantity
		metrics.InventoryLevel.WithLabelValues(item.ID).Set(float64(item.Quantity))
	}
	return nil
}

// Release puts reserved quantities back. Unknown items are ignored.
func (inv *Inventory) Release(lines []models.OrderItem) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, line := range lines {
		if item, exists := inv.items[line.ItemID]; exists {
			item.Quantity += line.Quantity
			metrics.InventoryLevel.WithLabelValues(item.ID).Set(float64(item.Quantity))
		}
	}
}

// OrderStore keeps orders in process
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

// NewOrderStore creates an empty store
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*models.Order)}
}

// Save stores a copy of order
func (s *OrderStore) Save(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = &order
}

// Get returns a copy of an order
func (s *OrderStore) Get(id string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

// List returns all orders, oldest first
func (s *OrderStore) List() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SetStatus changes the status of an order and returns the previous one
func (s *OrderStore) SetStatus(id, status string) (models.Order, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return models.Order{}, "", notFound("order not found: %s", id)
	}
	previous := order.Status
	order.Status = status
	return *order, previous, nil
}
