package models

// ModelItem is the model name inventory items are tracked under
const ModelItem = "item"

// Item represents an inventory item
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// IDFields implements Identifiable
func (Item) IDFields() []string {
	return []string{"itemId"}
}

// CheckInventoryResponse represents inventory check response
type CheckInventoryResponse struct {
	Available bool   `json:"available"`
	Quantity  int    `json:"quantity"`
	Message   string `json:"message,omitempty"`
}

// ReserveItemsRequest represents a request to reserve inventory
type ReserveItemsRequest struct {
	OrderID string      `json:"order_id" binding:"required"`
	Items   []OrderItem `json:"items" binding:"required,min=1,dive"`
}

// ReleaseItemsRequest represents a request to release reserved inventory
type ReleaseItemsRequest struct {
	OrderID string      `json:"order_id" binding:"required"`
	Items   []OrderItem `json:"items" binding:"required,min=1,dive"`
}
