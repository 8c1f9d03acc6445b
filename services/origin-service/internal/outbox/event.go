package outbox

import "time"

// Event is the envelope the domain layer appends inside its own transaction.
// EventType is "<aggregate>.<operation>", e.g. "department.created".
type Event struct {
	EventType     string
	AggregateType string
	AggregateID   int64
	Version       int64
	Payload       any
}

// Record is one outbox row. Rows are written once by the domain transaction
// and flipped to processed exactly once by the relay; they are never deleted.
type Record struct {
	ID            int64
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   int64
	Version       int64
	Payload       []byte
	IsProcessed   bool
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}
