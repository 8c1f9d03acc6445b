package bookkeeping

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/libs/db"
)

type Repository struct {
	pool  *db.Pool
	clock clockwork.Clock
}

func NewRepository(pool *db.Pool, clock clockwork.Clock) *Repository {
	return &Repository{pool: pool, clock: clock}
}

func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM processed_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertProcessed records an event in the idempotency ledger outside any
// transaction. A concurrent insert of the same event_id is not an error.
func (r *Repository) InsertProcessed(ctx context.Context, ev ProcessedEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, stream_id, aggregate_id, aggregate_type, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.EventID, ev.EventType, ev.StreamID, ev.AggregateID, ev.AggregateType, ev.ProcessedAt, ev.CreatedAt)
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

func (r *Repository) LastOffset(ctx context.Context, stream string) (string, error) {
	var lastID string
	err := r.pool.QueryRow(ctx, `SELECT last_id FROM sync_offsets WHERE stream_name = $1`, stream).Scan(&lastID)
	if err != nil {
		return "", err
	}
	return lastID, nil
}

func (r *Repository) UpsertOffset(ctx context.Context, stream, lastID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_offsets (stream_name, last_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_name) DO UPDATE SET last_id = $2, updated_at = $3
	`, stream, lastID, r.clock.Now())
	return err
}

func (r *Repository) InsertSyncLog(ctx context.Context, l SyncLog) error {
	eventType := l.EventType
	if eventType == "" {
		eventType = "unknown"
	}
	status := l.Status
	if status == "" {
		status = "unknown"
	}
	action := fmt.Sprintf("%s|%s|%s", eventType, status, Truncate(l.Message, 150))
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_logs (event_id, action, created_at)
		VALUES ($1, $2, $3)
	`, l.EventID, action, r.clock.Now())
	return err
}

func (r *Repository) InsertEventError(ctx context.Context, e EventError) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_errors (event_id, payload, error_message, retries, resolved, created_at)
		VALUES ($1, $2, $3, 0, false, $4)
	`, e.EventID, payload, e.Message, r.clock.Now())
	return err
}

func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
