package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/table-order/internal/adapter/handler"
	"github.com/rl1809/table-order/internal/adapter/messaging"
	"github.com/rl1809/table-order/internal/adapter/restapi"
	"github.com/rl1809/table-order/internal/adapter/storage"
	"github.com/rl1809/table-order/internal/config"
	"github.com/rl1809/table-order/internal/core/service"
	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

const (
	serviceName    = "table-order"
	healthInterval = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.NewLogger(serviceName, "info").Error("config_load_failed", "invalid configuration", err)
		os.Exit(1)
	}
	log := logger.NewLogger(serviceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize state store
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Error("store_connect_failed", "could not open state store", err, slog.String("driver", cfg.Store.Driver))
		os.Exit(1)
	}
	log.Info("store_connected", "state store ready", slog.String("driver", cfg.Store.Driver))

	// Initialize event publisher
	var publisher port.EventPublisher = messaging.NopPublisher{}
	closePublisher := func() {}
	if cfg.RabbitMQ.URL != "" {
		conn, ch, err := messaging.SetupConn(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Error("rabbitmq_connect_failed", "could not connect to RabbitMQ", err)
			os.Exit(1)
		}
		publisher = messaging.NewRabbitMQPublisher(ch, cfg.RabbitMQ.Exchange)
		closePublisher = func() {
			ch.Close()
			conn.Close()
		}
		log.Info("rabbitmq_connected", "publishing order events", slog.String("exchange", cfg.RabbitMQ.Exchange))
	}

	// Initialize services
	gateway := restapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	sessions := service.NewSessions(store, log)
	tables := service.NewTables(gateway, store, sessions, publisher, service.PaymentTiming{
		Window:       cfg.Payment.Window,
		PollInterval: cfg.Payment.PollInterval,
		TickInterval: cfg.Payment.TickInterval,
	}, log)
	catalog := service.NewCatalog(gateway, cfg.Catalog.TTL, log)
	history := service.NewHistoryView(gateway, sessions)

	// Initialize gRPC health server
	grpcServer := grpc.NewServer()
	health := handler.NewGRPCHealth(store, log)
	health.Register(grpcServer)
	go health.Watch(ctx, healthInterval)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error("grpc_listen_failed", "could not listen", err, slog.String("addr", cfg.Server.GRPCAddr))
		os.Exit(1)
	}

	go func() {
		log.Info("grpc_started", "gRPC server listening", slog.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc_serve_failed", "gRPC server error", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(catalog, sessions, tables, history, store, log)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: httpHandler.Routes(),
	}

	go func() {
		log.Info("http_started", "HTTP server listening",
			slog.String("addr", cfg.Server.HTTPAddr),
			slog.String("backend", cfg.Backend.BaseURL))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_serve_failed", "HTTP server error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown_started", "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", "HTTP server did not stop cleanly", err)
	}
	log.Info("http_stopped", "HTTP server stopped")

	cancel()
	grpcServer.GracefulStop()
	log.Info("grpc_stopped", "gRPC server stopped")

	// Stop every payment watch before the store goes away
	tables.Close()
	log.Info("tables_closed", "payment watches stopped")

	closePublisher()
	closeStore()
	log.Info("shutdown_complete", "connections closed")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (port.StateStore, func(), error) {
	switch cfg.Driver {
	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 20,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return storage.NewRedisAdapter(rdb), func() { rdb.Close() }, nil

	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case config.DriverMemory:
		return storage.NewMemoryAdapter(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
