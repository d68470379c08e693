package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/tenant-checkout/internal/adapter/handler"
	"github.com/rl1809/tenant-checkout/internal/adapter/storage"
	"github.com/rl1809/tenant-checkout/internal/config"
	"github.com/rl1809/tenant-checkout/internal/core/service"
	"github.com/rl1809/tenant-checkout/internal/metrics"
	"github.com/rl1809/tenant-checkout/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var db port.DatabaseRepository
	var sqlDB *sql.DB
	switch cfg.StorageDriver {
	case config.DriverMemory:
		db = storage.NewMemoryAdapter()
		log.Println("using in-memory storage")
	default:
		sqlDB, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MySQLMaxOpen)
		sqlDB.SetMaxIdleConns(cfg.MySQLMaxOpen / 2)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)

		if err := sqlDB.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		log.Println("connected to mysql")

		if cfg.RunMigrations {
			if err := storage.RunMigrations(sqlDB); err != nil {
				log.Fatalf("failed to migrate: %v", err)
			}
			log.Println("migrations applied")
		}
		db = storage.NewMySQLAdapter(sqlDB)
	}

	// Redis: shared mutation permits and cart cache. Without it permits are
	// per process, which is only safe with a single instance.
	var (
		rdb    *redis.Client
		cache  port.CacheRepository
		locker port.MutationLocker
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		log.Println("connected to redis")
		cache = storage.NewRedisAdapter(rdb, cfg.CartCacheTTL)
		locker = storage.NewRedisLocker(rdb, cfg.LockTTL)
	} else {
		log.Println("REDIS_ADDR not set, using in-process cart permits and no cart cache")
		locker = storage.NewKeyedLocker()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckout(registry)

	// Services
	engine := service.NewPricingEngine(db)
	guard := service.NewInventoryGuard()
	cartService := service.NewCartService(db, engine, cache, locker)
	checkoutService := service.NewCheckoutService(db, engine, guard, cache, locker, checkoutMetrics)
	orderService := service.NewOrderService(db, guard)

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryMetricsInterceptor(metrics.NewServerMetrics(registry, "grpc"))))
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(cartService, checkoutService, orderService))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(cartService, checkoutService, orderService, metrics.NewServerMetrics(registry, "http"), cfg.RequestTimeout)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(metrics.Handler(registry)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Println("gRPC server stopped")

	if rdb != nil {
		rdb.Close()
	}
	if sqlDB != nil {
		sqlDB.Close()
	}
	log.Println("connections closed")
}
