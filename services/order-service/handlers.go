package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/kernel"
	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/patterns"
	"github.com/ashendes/transactional-rest/internal/storage"
	"github.com/ashendes/transactional-rest/internal/transaction"
)

// Controller names as registered in the policy
const (
	OrderControllerName     = "OrderController"
	InventoryControllerName = "InventoryController"
	StatusControllerName    = "StatusController"
)

// OrderController manages orders
type OrderController struct {
	orders    *OrderStore
	inventory *Inventory
	log       log.FieldLogger
	now       func() time.Time
}

// Create places an order, reserving its items
func (oc *OrderController) Create(c *gin.Context) any {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.OrdersTotal.WithLabelValues("validation_failed").Inc()
		kernel.AddViolations(c, transaction.ViolationsFromError(err))
		return kernel.NewView(nil, http.StatusBadRequest)
	}

	if err := oc.inventory.Reserve(req.Items); err != nil {
		metrics.OrdersTotal.WithLabelValues(models.OrderStatusFailed).Inc()
		oc.log.WithError(err).Warn("Failed to reserve inventory")
		return kernel.NewView(err, errorStatus(err))
	}

	order := models.Order{
		ID:        uuid.New().String(),
		Items:     req.Items,
		Status:    models.OrderStatusCompleted,
		Timestamp: oc.now(),
	}
	for _, item := range req.Items {
		order.TotalAmount += item.Price * float64(item.Quantity)
	}
	oc.orders.Save(order)
	metrics.OrdersTotal.WithLabelValues(models.OrderStatusCompleted).Inc()

	oc.log.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    len(order.Items),
		"total":    order.TotalAmount,
	}).Info("Order placed")

	return kernel.NewView(order, http.StatusCreated)
}

// Get returns one order
func (oc *OrderController) Get(c *gin.Context) any {
	order, ok := oc.orders.Get(c.Param("orderId"))
	if !ok {
		return kernel.NewView(gin.H{"error": "order not found", "order_id": c.Param("orderId")}, http.StatusNotFound)
	}
	return kernel.NewView(order, http.StatusOK)
}

// List returns every order as a raw result
func (oc *OrderController) List(c *gin.Context) any {
	return oc.orders.List()
}

// UpdateStatus changes the status of an order
func (oc *OrderController) UpdateStatus(c *gin.Context) any {
	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		kernel.AddViolations(c, transaction.ViolationsFromError(err))
		return kernel.NewView(nil, http.StatusBadRequest)
	}
	return oc.transition(c.Param("orderId"), req.Status)
}

// Cancel cancels an order and releases its items
func (oc *OrderController) Cancel(c *gin.Context) any {
	return oc.transition(c.Param("orderId"), models.OrderStatusCancelled)
}

func (oc *OrderController) transition(id, status string) any {
	order, previous, err := oc.orders.SetStatus(id, status)
	if err != nil {
		return kernel.NewView(err, errorStatus(err))
	}
	if status == models.OrderStatusCancelled && previous != models.OrderStatusCancelled {
		oc.inventory.Release(order.Items)
	}
	metrics.OrdersTotal.WithLabelValues(status).Inc()
	oc.log.WithFields(log.Fields{
		"order_id": id,
		"from":     previous,
		"to":       status,
	}).Info("Order status changed")
	return kernel.NewView(order, http.StatusOK)
}

// InventoryController exposes stock levels and reservations
type InventoryController struct {
	inventory *Inventory
	log       log.FieldLogger
}

// Check reports the stock of one item
func (ic *InventoryController) Check(c *gin.Context) any {
	item, ok := ic.inventory.Get(c.Param("itemId"))
	if !ok {
		return kernel.NewView(models.CheckInventoryResponse{Message: "item not found"}, http.StatusNotFound)
	}
	return kernel.NewView(models.CheckInventoryResponse{
		Available: item.Quantity > 0,
		Quantity:  item.Quantity,
	}, http.StatusOK)
}

// Reserve deducts stock for an order
func (ic *InventoryController) Reserve(c *gin.Context) any {
	var req models.ReserveItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		kernel.AddViolations(c, transaction.ViolationsFromError(err))
		return kernel.NewView(nil, http.StatusBadRequest)
	}
	if err := ic.inventory.Reserve(req.Items); err != nil {
		return kernel.NewView(err, errorStatus(err))
	}
	ic.log.WithFields(log.Fields{"order_id": req.OrderID, "items": len(req.Items)}).Info("Items reserved")
	return kernel.NewView(gin.H{"order_id": req.OrderID, "reserved": len(req.Items)}, http.StatusOK)
}

// Release puts stock back
func (ic *InventoryController) Release(c *gin.Context) any {
	var req models.ReleaseItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		kernel.AddViolations(c, transaction.ViolationsFromError(err))
		return kernel.NewView(nil, http.StatusBadRequest)
	}
	ic.inventory.Release(req.Items)
	ic.log.WithFields(log.Fields{"order_id": req.OrderID, "items": len(req.Items)}).Info("Items released")
	return kernel.NewView(gin.H{"order_id": req.OrderID, "released": len(req.Items)}, http.StatusOK)
}

// StatusController reports service health
type StatusController struct {
	service string
	breaker *patterns.CircuitBreakerWrapper
	backend storage.Backend
}

// Health is the liveness probe
func (sc *StatusController) Health(c *gin.Context) any {
	return kernel.NewView(gin.H{"status": "healthy", "service": sc.service}, http.StatusOK)
}

// Storage reports the state of the storage circuit breaker and the
// transactions the backend gave up on
func (sc *StatusController) Storage(c *gin.Context) any {
	out := gin.H{"breaker": "disabled"}
	if sc.breaker != nil {
		out["breaker"] = gin.H{
			"state": sc.breaker.GetState(),
			"value": sc.breaker.GetStateValue(),
		}
	}
	if dl, ok := sc.backend.(interface{ DeadLetters() []*models.Transaction }); ok {
		ids := []string{}
		for _, tx := range dl.DeadLetters() {
			ids = append(ids, tx.ID)
		}
		out["dead_letters"] = ids
	}
	return kernel.NewView(out, http.StatusOK)
}

func errorStatus(err error) int {
	var sc transaction.StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
