package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/avelarde/hrsync/libs/redisx"
	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
	"github.com/avelarde/hrsync/services/replica-service/internal/reconcile"
)

const maxErrorLogLen = 1000

// dispatch runs one entry through the idempotent apply pipeline. Framing
// problems (no event_type, undecodable payload, unknown event_type) are
// poison: acknowledged and never retried. Handler errors leave the entry
// pending so redelivery retries it.
func (c *Consumer) dispatch(ctx context.Context, entry redisx.Entry) error {
	eventType := entry.Fields["event_type"]
	if eventType == "" {
		c.logger.Warn("entry without event_type, dropping", "entry_id", entry.ID)
		return c.broker.Ack(ctx, entry.ID)
	}

	evt, err := c.parseEntry(entry)
	if err != nil {
		c.logger.Warn("unparsable entry, dropping", "entry_id", entry.ID, "err", err)
		eventID := entry.Fields["event_id"]
		if eventID == "" {
			eventID = entry.ID
		}
		c.tombstone(ctx, eventID, eventType, entry.ID, "0", entry.Fields["aggregate_type"])
		return c.broker.Ack(ctx, entry.ID)
	}

	seen, err := c.books.Seen(ctx, evt.EventID)
	if err != nil {
		return fmt.Errorf("ledger lookup for %s: %w", evt.EventID, err)
	}
	if seen {
		c.logger.Info("duplicate event, acking", "event_id", evt.EventID, "event_type", eventType)
		return c.broker.Ack(ctx, entry.ID)
	}

	handler, ok := c.handlers[eventType]
	if !ok {
		c.logger.Warn("no handler for event type, dropping", "event_type", eventType, "event_id", evt.EventID)
		c.tombstone(ctx, evt.EventID, eventType, entry.ID, evt.AggregateID, evt.AggregateType)
		return c.broker.Ack(ctx, entry.ID)
	}

	ctx, span := otel.Tracer("consumer").Start(ctx, "stream.consume")
	span.SetAttributes(
		attribute.String("messaging.destination.name", c.stream),
		attribute.String("messaging.message.id", evt.EventID),
		attribute.String("event.type", eventType),
	)
	defer span.End()

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}

	res, err := handler.Apply(ctx, tx, evt)
	if err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		c.recordFailure(ctx, evt, entry, err)
		return fmt.Errorf("apply %s %s: %w", eventType, evt.EventID, err)
	}

	if res.Skip {
		_ = tx.Rollback(ctx)
		c.logger.Info("event skipped", "event_id", evt.EventID, "event_type", eventType, "reason", res.Reason)
		if err := c.broker.Ack(ctx, entry.ID); err != nil {
			return err
		}
		c.advanceOffset(ctx, entry.ID)
		c.tombstone(ctx, evt.EventID, eventType, entry.ID, evt.AggregateID, evt.AggregateType)
		return nil
	}

	now := c.clock.Now()
	if err := tx.InsertProcessedEvent(ctx, bookkeeping.ProcessedEvent{
		EventID:       evt.EventID,
		EventType:     eventType,
		StreamID:      entry.ID,
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		ProcessedAt:   now,
		CreatedAt:     now,
	}); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("ledger insert for %s: %w", evt.EventID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", evt.EventID, err)
	}

	c.logger.Info("event applied", "event_id", evt.EventID, "event_type", eventType, "aggregate_id", evt.AggregateID)

	if err := c.books.InsertSyncLog(ctx, bookkeeping.SyncLog{
		EventID:   evt.EventID,
		EventType: eventType,
		Status:    "success",
		Message:   "applied",
	}); err != nil {
		c.logger.Warn("sync log insert failed", "event_id", evt.EventID, "err", err)
	}

	if err := c.broker.Ack(ctx, entry.ID); err != nil {
		return err
	}
	c.advanceOffset(ctx, entry.ID)
	return nil
}

func (c *Consumer) parseEntry(entry redisx.Entry) (reconcile.Event, error) {
	eventID := entry.Fields["event_id"]
	if eventID == "" {
		return reconcile.Event{}, errors.New("missing event_id field")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(entry.Fields["payload"]), &data); err != nil {
		return reconcile.Event{}, fmt.Errorf("decode payload: %w", err)
	}

	evt := reconcile.Event{
		EventID:       eventID,
		EventType:     entry.Fields["event_type"],
		AggregateType: entry.Fields["aggregate_type"],
		AggregateID:   entry.Fields["aggregate_id"],
		Stream:        c.stream,
		Data:          data,
	}
	if evt.AggregateID == "" {
		evt.AggregateID = aggregateIDFrom(data)
	}
	return evt, nil
}

// tombstone records a poison or skipped message in the idempotency ledger so
// a redelivery is deduplicated instead of reprocessed. Best effort.
func (c *Consumer) tombstone(ctx context.Context, eventID, eventType, streamID, aggregateID, aggregateType string) {
	if aggregateID == "" {
		aggregateID = "0"
	}
	now := c.clock.Now()
	if err := c.books.InsertProcessed(ctx, bookkeeping.ProcessedEvent{
		EventID:       eventID,
		EventType:     eventType,
		StreamID:      streamID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		ProcessedAt:   now,
		CreatedAt:     now,
	}); err != nil {
		c.logger.Warn("ledger insert failed", "event_id", eventID, "err", err)
	}
}

func (c *Consumer) advanceOffset(ctx context.Context, entryID string) {
	if err := c.books.UpsertOffset(ctx, c.stream, entryID); err != nil {
		c.logger.Warn("offset upsert failed", "entry_id", entryID, "err", err)
	}
}

// recordFailure persists the failed event for operators: the raw payload in
// event_errors plus a truncated sync_logs row. Both are best effort.
func (c *Consumer) recordFailure(ctx context.Context, evt reconcile.Event, entry redisx.Entry, applyErr error) {
	if err := c.books.InsertEventError(ctx, bookkeeping.EventError{
		EventID: evt.EventID,
		Payload: []byte(entry.Fields["payload"]),
		Message: applyErr.Error(),
	}); err != nil {
		c.logger.Warn("event error insert failed", "event_id", evt.EventID, "err", err)
	}
	if err := c.books.InsertSyncLog(ctx, bookkeeping.SyncLog{
		EventID:   evt.EventID,
		EventType: evt.EventType,
		Status:    "failed",
		Message:   bookkeeping.Truncate(applyErr.Error(), maxErrorLogLen),
	}); err != nil {
		c.logger.Warn("sync log insert failed", "event_id", evt.EventID, "err", err)
	}
}

func aggregateIDFrom(data map[string]any) string {
	if id := idString(data); id != "" {
		return id
	}
	for _, key := range []string{"employee", "department", "skill"} {
		if nested, ok := data[key].(map[string]any); ok {
			if id := idString(nested); id != "" {
				return id
			}
		}
	}
	return "0"
}

func idString(m map[string]any) string {
	switch v := m["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}
