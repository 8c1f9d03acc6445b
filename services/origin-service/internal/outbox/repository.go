package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends one outbox row in the caller's transaction, generating the
// globally unique event_id. Call this from the same transaction that mutates
// the aggregate, never outside one.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (event_id, event_type, aggregate_type, aggregate_id, version, payload, is_processed)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`, uuid.NewString(), evt.EventType, evt.AggregateType, evt.AggregateID, evt.Version, payload)
	return err
}

func (r *Repository) FetchUnprocessed(ctx context.Context, tx pgx.Tx, afterID int64, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_type, aggregate_type, aggregate_id, version, payload, created_at
		FROM outbox
		WHERE is_processed = false AND id > $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.EventType, &rcd.AggregateType, &rcd.AggregateID, &rcd.Version, &rcd.Payload, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox
		SET is_processed = true, processed_at = $2
		WHERE id = $1
	`, id, at)
	return err
}
