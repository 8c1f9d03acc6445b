package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/avelarde/hrsync/libs/config"
	"github.com/avelarde/hrsync/libs/db"
	"github.com/avelarde/hrsync/libs/httpx"
	otelx "github.com/avelarde/hrsync/libs/otel"
	"github.com/avelarde/hrsync/libs/redisx"
	"github.com/avelarde/hrsync/libs/runtime"
	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
	"github.com/avelarde/hrsync/services/replica-service/internal/consumer"
	"github.com/avelarde/hrsync/services/replica-service/internal/reconcile"
	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "replica-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb, err := redisx.Open(ctx, config.String("REDIS_ADDR", "localhost:6379"))
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer func() { _ = rdb.Close() }()

	clock := clockwork.NewRealClock()
	streamName := config.String("SYNC_STREAM", "hr_sync_stream")
	group := redisx.NewGroup(rdb,
		streamName,
		config.String("SYNC_GROUP", "hr_sync_group"),
		config.String("SYNC_CONSUMER", "replica-service-1"),
	)

	books := bookkeeping.NewRepository(pool, clock)
	store := replica.NewStore(pool)

	streamConsumer := consumer.New(group, store, books, reconcile.Registry(clock), logger, clock, consumer.Config{
		Stream:    streamName,
		LiveBlock: config.Duration("SYNC_LIVE_BLOCK", 5*time.Second),
	})

	consumerErr := make(chan error, 1)
	go func() { consumerErr <- streamConsumer.Run(ctx) }()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "replica")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	fatal := false
	select {
	case <-ctx.Done():
	case err := <-consumerErr:
		if err != nil {
			logger.Error("consumer failed", "err", err)
			fatal = true
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	if fatal {
		os.Exit(1)
	}
}
