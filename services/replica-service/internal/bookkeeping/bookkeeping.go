// Package bookkeeping owns the consumer-side ledger tables: the permanent
// idempotency ledger (processed_events), the advisory offset hints
// (sync_offsets), and the append-only diagnostics (sync_logs, event_errors).
package bookkeeping

import "time"

// ProcessedEvent is one idempotency-ledger row. At most one row exists per
// event_id; it is inserted for successful applies and for intentionally
// dropped messages alike, and is never pruned.
type ProcessedEvent struct {
	EventID       string
	EventType     string
	StreamID      string
	AggregateID   string
	AggregateType string
	ProcessedAt   time.Time
	CreatedAt     time.Time
}

// SyncLog is one diagnostics row; the pipeline writes these and never reads
// them back.
type SyncLog struct {
	EventID   string
	EventType string
	Status    string
	Message   string
}

// EventError captures a failed apply: the full event snapshot plus the error
// message, left unresolved for operators.
type EventError struct {
	EventID string
	Payload []byte
	Message string
}
