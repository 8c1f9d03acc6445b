package main

import (
	"context"
	"net/http"
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
	"github.com/avelarde/hrsync/services/origin-service/internal/outbox"
	"github.com/avelarde/hrsync/services/origin-service/internal/relay"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "origin-service")
	port, err := config.Port("PORT", "8081")
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

	ledger := outbox.NewLedger(pool, outbox.NewRepository())
	stream := redisx.NewStream(rdb, config.String("SYNC_STREAM", "hr_sync_stream"))

	outboxRelay := relay.New(ledger, stream, logger, clockwork.NewRealClock())
	go outboxRelay.Run(ctx, relay.Config{
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		ChunkSize: config.Int("OUTBOX_CHUNK_SIZE", relay.DefaultChunkSize),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "origin")
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

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
