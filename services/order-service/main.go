package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/config"
	"github.com/ashendes/transactional-rest/internal/logging"
	"github.com/ashendes/transactional-rest/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Logging)
	if logger.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.Storage.Driver,
		PostgresDSN:  cfg.Storage.PostgresDSN,
		RedisAddr:    cfg.Storage.RedisAddr,
		RedisKey:     cfg.Storage.RedisKey,
		CollectorURL: cfg.Storage.CollectorURL,
		Timeout:      cfg.Storage.Timeout,
		MaxPending:   cfg.Storage.MaxPending,
	})
	if err != nil {
		logger.WithError(err).WithField("driver", cfg.Storage.Driver).Fatal("Failed to open transaction storage")
	}

	srv, err := newServer(cfg, backend, logger)
	if err != nil {
		backend.Close()
		logger.WithError(err).Fatal("Failed to build server")
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    cfg.HTTP.Addr,
			"storage": backend.Name(),
			"policy":  cfg.PolicyFile,
		}).Info("Order Service starting")
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
	if err := srv.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Finalize queue not fully drained")
	}
	if err := backend.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close transaction storage")
	}
	logger.Info("Order Service stopped")
}
