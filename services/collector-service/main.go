package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/config"
	"github.com/ashendes/transactional-rest/internal/logging"
	"github.com/ashendes/transactional-rest/internal/storage"
)

const serviceName = "collector-service"

func main() {
	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Logging)
	if logger.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Storage.Driver == storage.DriverCollector {
		logger.Fatal("The collector cannot use the collector storage driver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		PostgresDSN: cfg.Storage.PostgresDSN,
		RedisAddr:   cfg.Storage.RedisAddr,
		RedisKey:    cfg.Storage.RedisKey,
		Timeout:     cfg.Storage.Timeout,
		MaxPending:  cfg.Storage.MaxPending,
	})
	if err != nil {
		logger.WithError(err).WithField("driver", cfg.Storage.Driver).Fatal("Failed to open transaction storage")
	}

	router := NewCollector(backend, logger).Router(serviceName)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:         cfg.HTTP.CollectorAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    cfg.HTTP.CollectorAddr,
			"storage": backend.Name(),
		}).Info("Collector Service starting")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if err := backend.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close transaction storage")
	}
	logger.Info("Collector Service stopped")
}
