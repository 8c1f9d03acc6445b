package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/avelarde/hrsync/services/origin-service/internal/outbox"
)

// entryTimeFormat is the created_at format carried on stream entries.
const entryTimeFormat = "2006-01-02 15:04:05"

const DefaultChunkSize = 100

// Appender is the producer side of the broker stream.
type Appender interface {
	Append(ctx context.Context, fields map[string]any) (string, error)
	Name() string
}

// Relay drains unprocessed outbox rows into the broker stream with
// at-least-once semantics: a page that fails after some appends is rolled
// back on the outbox side only, so the next run re-appends those entries.
// The consumer's idempotency ledger absorbs the duplicates.
type Relay struct {
	ledger outbox.Ledger
	stream Appender
	logger *slog.Logger
	clock  clockwork.Clock
}

func New(ledger outbox.Ledger, stream Appender, logger *slog.Logger, clock clockwork.Clock) *Relay {
	return &Relay{ledger: ledger, stream: stream, logger: logger, clock: clock}
}

type Config struct {
	PollEvery time.Duration
	ChunkSize int
}

// Run invokes Publish on a fixed schedule until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, cfg Config) {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}

	r.logger.Info("outbox relay starting", "stream", r.stream.Name(), "poll_every", cfg.PollEvery)

	ticker := r.clock.NewTicker(cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := r.Publish(ctx, cfg.ChunkSize); err != nil {
				r.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// Publish scans unprocessed rows in id order, one transaction per page of
// chunkSize rows. For each row it appends a stream entry and then marks the
// row processed, in that order. Any failure aborts the current page and the
// whole call; earlier pages stay committed.
func (r *Relay) Publish(ctx context.Context, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	ctx, span := otel.Tracer("relay").Start(ctx, "outbox.publish")
	defer span.End()

	start := r.clock.Now()
	processed := 0
	cursor := int64(0)

	for {
		n, lastID, err := r.publishPage(ctx, cursor, chunkSize)
		if err != nil {
			span.RecordError(err)
			return processed, err
		}
		processed += n
		if n < chunkSize {
			break
		}
		cursor = lastID
	}

	elapsed := r.clock.Now().Sub(start)
	span.SetAttributes(attribute.Int("outbox.processed", processed))
	r.logger.Info("outbox publish completed",
		"processed", processed,
		"elapsed_seconds", elapsed.Seconds(),
	)
	return processed, nil
}

func (r *Relay) publishPage(ctx context.Context, afterID int64, chunkSize int) (int, int64, error) {
	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := tx.FetchUnprocessed(ctx, afterID, chunkSize)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, afterID, tx.Commit(ctx)
	}

	for _, rcd := range records {
		id, err := r.stream.Append(ctx, entryFields(rcd, r.clock.Now()))
		if err != nil {
			return 0, 0, fmt.Errorf("append event %s: %w", rcd.EventID, err)
		}
		if id == "" {
			return 0, 0, errors.New("broker returned empty entry id")
		}
		if err := tx.MarkProcessed(ctx, rcd.ID, r.clock.Now()); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return len(records), records[len(records)-1].ID, nil
}

func entryFields(rcd outbox.Record, now time.Time) map[string]any {
	return map[string]any{
		"event_id":       rcd.EventID,
		"event_type":     rcd.EventType,
		"aggregate_type": rcd.AggregateType,
		"aggregate_id":   strconv.FormatInt(rcd.AggregateID, 10),
		"version":        strconv.FormatInt(rcd.Version, 10),
		"payload":        string(rcd.Payload),
		"created_at":     now.Format(entryTimeFormat),
	}
}
