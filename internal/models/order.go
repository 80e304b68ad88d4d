package models

import (
	"time"

	"github.com/ashendes/transactional-rest/internal/embedded"
)

// ModelOrder is the model name orders are tracked under
const ModelOrder = "order"

// GroupItems embeds the line items of an order
const GroupItems = "items"

// OrderItem represents an item in an order
type OrderItem struct {
	ItemID   string  `json:"item_id" binding:"required"`
	Quantity int     `json:"quantity" binding:"required,gt=0"`
	Price    float64 `json:"price" binding:"required,gt=0"`
}

// Order represents a customer order
type Order struct {
	ID          string      `json:"id"`
	Items       []OrderItem `json:"items,omitempty"`
	TotalAmount float64     `json:"total_amount"`
	Status      string      `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
}

// IDFields implements Identifiable
func (Order) IDFields() []string {
	return []string{"orderId"}
}

// Embed omits the line items unless they were asked for
func (o Order) Embed(groups embedded.Groups) any {
	if !groups.Has(GroupItems) {
		o.Items = nil
	}
	return o
}

// OrderStatus constants
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// CreateOrderRequest represents the request to create a new order
type CreateOrderRequest struct {
	Items []OrderItem `json:"items" binding:"required,min=1,dive"`
}

// UpdateOrderStatusRequest represents a status change on an existing order
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending completed failed cancelled"`
}
