package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trail-link/internal/aggregator"
	"trail-link/internal/common/config"
	"trail-link/internal/common/logger"
	"trail-link/internal/jwt"
	"trail-link/internal/location"
	"trail-link/internal/postgres"
	"trail-link/internal/rabbitmq"
	"trail-link/internal/ws"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.New("location-service")
	logger.Info(ctx, log, "init_start", "Location service initializing...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error(ctx, log, "config_load_failed", "Failed to load config file", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Error(ctx, log, "config_invalid", "Config failed validation", err)
		os.Exit(1)
	}
	logger.Info(ctx, log, "config_loaded", "Configuration loaded successfully")

	// Postgres
	pool, err := postgres.NewPool(ctx, cfg.Database, log)
	if err != nil {
		logger.Error(ctx, log, "db_connect_failed", "Failed to connect to database", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Error(ctx, log, "schema_failed", "Failed to ensure database schema", err)
		os.Exit(1)
	}

	// RabbitMQ (reconnects internally)
	rmq, err := rabbitmq.Connect(ctx, cfg.RabbitMQ, log)
	if err != nil {
		logger.Error(ctx, log, "rmq_connect_failed", "Failed to connect to RabbitMQ", err)
		os.Exit(1)
	}
	defer rmq.Close()
	logger.Info(ctx, log, "rmq_ready", "RabbitMQ topology declared")

	// Repositories, service, feed manager, and the websocket gateway
	locationRepo := postgres.NewLocationRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	routeRepo := postgres.NewRouteRepo(pool)
	feedPub := rabbitmq.NewFeedPublisher(rmq)

	svc := location.NewService(locationRepo, routeRepo, userRepo, feedPub, log)
	mgr := location.NewManager(svc, func(ctx context.Context, sessionID string) (aggregator.Feed, error) {
		return rabbitmq.OpenSessionFeed(ctx, rmq, sessionID, log)
	}, log)

	jwtMgr := jwt.NewManager(cfg.Server.JWTSecret, 24*time.Hour)
	hub := ws.NewHub(log)
	gateway := ws.NewGateway(svc, mgr, hub, jwtMgr, log)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info(ctx, log, "http_server_start", "Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, log, "http_server_failed", "HTTP server failed", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		logger.Info(ctx, log, "shutdown_signal", "Shutdown signal received")
	case <-ctx.Done():
		logger.Info(ctx, log, "shutdown_ctx", "Context canceled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, log, "http_shutdown_failed", "HTTP server shutdown failed", err)
	} else {
		logger.Info(ctx, log, "http_shutdown", "HTTP server stopped")
	}

	logger.Info(ctx, log, "shutdown_complete", "Location service stopped")
}
