package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/config"
	"github.com/ashendes/transactional-rest/internal/kernel"
	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/patterns"
	"github.com/ashendes/transactional-rest/internal/policy"
	"github.com/ashendes/transactional-rest/internal/storage"
	"github.com/ashendes/transactional-rest/internal/transactional"
)

// server is the order API with its transactional pipeline
type server struct {
	router    *gin.Engine
	finalizer *transactional.Finalizer
	inventory *Inventory
	orders    *OrderStore
}

func newServer(cfg config.Config, backend storage.Backend, logger *log.Logger) (*server, error) {
	resolver, err := newResolver(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	var (
		store   storage.Storage = backend
		breaker *patterns.CircuitBreakerWrapper
	)
	if cfg.Storage.Breaker {
		breaker = patterns.NewCircuitBreaker("Storage", cfg.Service, patterns.BreakerSettings{})
		store = storage.WithBreaker(backend, breaker)
	}

	finalizer := transactional.NewFinalizer(store, transactional.FinalizerOptions{
		Workers:        cfg.Finalizer.Workers,
		QueueSize:      cfg.Finalizer.QueueSize,
		Timeout:        cfg.Storage.Timeout,
		DropOnShutdown: cfg.Finalizer.DropOnShutdown,
	}, logger)

	k := kernel.New(resolver, logger)
	k.Use("transactional", transactional.NewListener(transactional.Options{
		Resolver: resolver,
		Sink:     finalizer,
		Logger:   logger,
	}))

	s := &server{
		router:    gin.New(),
		finalizer: finalizer,
		inventory: NewInventory(sampleItems()...),
		orders:    NewOrderStore(),
	}
	s.router.Use(gin.Recovery(), metrics.PrometheusMiddleware(cfg.Service))
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	orders := &OrderController{orders: s.orders, inventory: s.inventory, log: logger, now: time.Now}
	inventory := &InventoryController{inventory: s.inventory, log: logger}
	status := &StatusController{service: cfg.Service, breaker: breaker, backend: backend}

	routes := []struct {
		method, path string
		target       policy.Target
		action       kernel.Action
	}{
		{http.MethodGet, "/health", target(StatusControllerName, "health"), status.Health},
		{http.MethodGet, "/status/storage", target(StatusControllerName, "storage"), status.Storage},

		{http.MethodPost, "/orders", target(OrderControllerName, "create"), orders.Create},
		{http.MethodGet, "/orders", target(OrderControllerName, "list"), orders.List},
		{http.MethodGet, "/orders/:orderId", target(OrderControllerName, "get"), orders.Get},
		{http.MethodPut, "/orders/:orderId", target(OrderControllerName, "updateStatus"), orders.UpdateStatus},
		{http.MethodPatch, "/orders/:orderId", target(OrderControllerName, "updateStatus"), orders.UpdateStatus},
		{http.MethodDelete, "/orders/:orderId", target(OrderControllerName, "cancel"), orders.Cancel},

		{http.MethodGet, "/inventory/:itemId", target(InventoryControllerName, "check"), inventory.Check},
		{http.MethodPost, "/inventory/reserve", target(InventoryControllerName, "reserve"), inventory.Reserve},
		{http.MethodPost, "/inventory/release", target(InventoryControllerName, "release"), inventory.Release},
	}
	for _, rt := range routes {
		if err := k.Route(s.router, rt.method, rt.path, rt.target, rt.action); err != nil {
			finalizer.Close(context.Background())
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.path, err)
		}
	}
	return s, nil
}

// Handler is the HTTP entry point, method override applied
func (s *server) Handler() http.Handler {
	return kernel.MethodOverride(s.router)
}

// Close drains pending transactions
func (s *server) Close(ctx context.Context) error {
	return s.finalizer.Close(ctx)
}

func target(controller, action string) policy.Target {
	return policy.Target{Controller: controller, Action: action}
}

// newResolver loads the policy file when one is configured, otherwise it
// registers the built-in policy
func newResolver(path string) (*policy.Resolver, error) {
	resolver := policy.NewResolver(models.DefaultRegistry())
	if path != "" {
		if err := resolver.LoadFile(path); err != nil {
			return nil, err
		}
		return resolver, nil
	}

	for _, c := range defaultPolicy() {
		if err := resolver.Register(c); err != nil {
			return nil, err
		}
	}
	return resolver, nil
}

func defaultPolicy() []policy.Controller {
	return []policy.Controller{
		{
			Name: OrderControllerName,
			Transactional: &policy.Transactional{
				Model:            models.ModelOrder,
				RelatedRoute:     "get_order",
				WriteStatusCodes: true,
			},
			Actions: map[string]policy.Action{
				"create":       {},
				"updateStatus": {},
				"cancel":       {RelatedRoute: "list_orders"},
				"get":          {Avoid: true},
				"list":         {Avoid: true},
			},
		},
		{
			Name: InventoryControllerName,
			Transactional: &policy.Transactional{
				Model:        models.ModelItem,
				RelatedRoute: "check_item",
			},
			Actions: map[string]policy.Action{
				"reserve": {},
				"release": {},
				"check":   {Avoid: true},
			},
		},
		{
			Name: StatusControllerName,
			Actions: map[string]policy.Action{
				"health":  {},
				"storage": {},
			},
		},
	}
}
