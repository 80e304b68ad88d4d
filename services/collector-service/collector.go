package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/storage"
)

// Collector receives finalized transactions from the services and writes
// them to its own backend
type Collector struct {
	backend storage.Backend
	log     log.FieldLogger
}

// NewCollector creates a collector writing to backend
func NewCollector(backend storage.Backend, logger log.FieldLogger) *Collector {
	return &Collector{backend: backend, log: logger}
}

// Router builds the HTTP routes of the collector
func (col *Collector) Router(service string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.PrometheusMiddleware(service))

	router.GET("/health", col.health)
	router.POST(storage.CollectorPath, col.receive)
	return router
}

func (col *Collector) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"storage": col.backend.Name(),
	})
}

// receive stores a batch. The batch is written as a whole, a failed write
// asks the sender to retry it.
func (col *Collector) receive(c *gin.Context) {
	var batch storage.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch: " + err.Error()})
		return
	}
	for i, tx := range batch.Transactions {
		if tx == nil || tx.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "transaction without id", "index": i})
			return
		}
	}

	ctx := c.Request.Context()
	for _, tx := range batch.Transactions {
		if err := col.backend.Persist(ctx, tx); err != nil {
			col.log.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to stage transaction")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
	}
	if err := col.backend.Write(ctx); err != nil {
		col.log.WithError(err).WithField("transactions", len(batch.Transactions)).Error("Failed to write batch")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	for _, tx := range batch.Transactions {
		metrics.CollectedTransactions.WithLabelValues(tx.Model, strconv.FormatBool(tx.Success)).Inc()
	}
	col.log.WithField("transactions", len(batch.Transactions)).Debug("Batch collected")
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(batch.Transactions)})
}
