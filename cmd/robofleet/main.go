// Command robofleet runs the fleet control plane: a websocket gateway for
// robot agents and an HTTP API for operators.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/robofleet/robofleet/internal/broker"
	"github.com/robofleet/robofleet/internal/common/config"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/common/tracing"
	"github.com/robofleet/robofleet/internal/db"
	"github.com/robofleet/robofleet/internal/events/bus"
	"github.com/robofleet/robofleet/internal/fleet/api"
	"github.com/robofleet/robofleet/internal/fleet/repository"
	"github.com/robofleet/robofleet/internal/gateway/websocket"
)

const (
	serverName = "robofleet"
	version    = "0.3.1"

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "robofleet: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	repo, err := repository.NewSQLStore(ctx, pool, log)
	if err != nil {
		return err
	}

	eventBus := newEventBus(cfg, log)
	defer eventBus.Close()

	directory := broker.NewDirectory(eventBus, log)

	handler := api.NewHandler(repo, directory, eventBus, log, version)
	router := api.NewRouter(handler, log, serverName)
	websocket.NewHandler(directory, log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("database", cfg.Database.URL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	for _, conn := range directory.Connections() {
		conn.Close()
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}
	return nil
}

// newEventBus picks NATS when configured, otherwise the in-memory bus.
func newEventBus(cfg *config.Config, log *logger.Logger) bus.EventBus {
	if cfg.NATS.URL == "" {
		log.Info("event bus: in-memory")
		return bus.NewMemoryEventBus(log)
	}
	natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		log.Warn("NATS unavailable, falling back to in-memory bus", zap.Error(err))
		return bus.NewMemoryEventBus(log)
	}
	return natsBus
}
