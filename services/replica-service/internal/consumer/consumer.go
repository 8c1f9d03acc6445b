// Package consumer runs the replica-side pipeline: consumer-group
// bootstrap/recovery, the three-phase read loop, and the idempotent
// per-message dispatch into the reconcile handlers.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/libs/redisx"
	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
	"github.com/avelarde/hrsync/services/replica-service/internal/reconcile"
	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

// Broker is the consumer-group command surface this pipeline needs from the
// stream broker. *redisx.Group implements it.
type Broker interface {
	CreateGroup(ctx context.Context, startID string, mkStream bool) error
	DestroyGroup(ctx context.Context) error
	Len(ctx context.Context) (int64, error)
	FirstEntryID(ctx context.Context) (string, error)
	LastEntryID(ctx context.Context) (string, error)
	PendingCount(ctx context.Context) (int64, error)
	Read(ctx context.Context, id string, count int64, block time.Duration) ([]redisx.Entry, error)
	Ack(ctx context.Context, id string) error
}

// Bookkeeper is the ledger/offset/diagnostics surface, implemented by
// bookkeeping.Repository.
type Bookkeeper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	InsertProcessed(ctx context.Context, ev bookkeeping.ProcessedEvent) error
	LastOffset(ctx context.Context, stream string) (string, error)
	UpsertOffset(ctx context.Context, stream, lastID string) error
	InsertSyncLog(ctx context.Context, l bookkeeping.SyncLog) error
	InsertEventError(ctx context.Context, e bookkeeping.EventError) error
}

type Config struct {
	Stream    string
	LiveBlock time.Duration
}

type Consumer struct {
	broker    Broker
	store     replica.Store
	books     Bookkeeper
	handlers  map[string]reconcile.Handler
	logger    *slog.Logger
	clock     clockwork.Clock
	stream    string
	liveBlock time.Duration
}

func New(broker Broker, store replica.Store, books Bookkeeper, handlers map[string]reconcile.Handler, logger *slog.Logger, clock clockwork.Clock, cfg Config) *Consumer {
	liveBlock := cfg.LiveBlock
	if liveBlock <= 0 {
		liveBlock = 5 * time.Second
	}
	return &Consumer{
		broker:    broker,
		store:     store,
		books:     books,
		handlers:  handlers,
		logger:    logger,
		clock:     clock,
		stream:    cfg.Stream,
		liveBlock: liveBlock,
	}
}
