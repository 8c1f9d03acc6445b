// Package reconcile applies replicated domain events to the replica store.
// One handler exists per (aggregate kind, operation) pair; the dispatcher
// selects it from the registry by exact event-type string.
package reconcile

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

// Event is one parsed stream entry. Data is the decoded JSON payload.
type Event struct {
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
	Stream        string
	Data          map[string]any
}

// Result reports the handler outcome. A zero Result means the event was
// applied. Skip marks a business no-op (stale version, missing reference):
// the event is acknowledged and ledgered but the transaction is discarded.
type Result struct {
	Skip   bool
	Reason string
}

func applied() Result           { return Result{} }
func skip(reason string) Result { return Result{Skip: true, Reason: reason} }

type Handler interface {
	Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error)
}

// Registry returns the full routing table. Event types outside this map are
// poison: the dispatcher acknowledges and tombstones them without retry.
func Registry(clock clockwork.Clock) map[string]Handler {
	return map[string]Handler{
		"department.created": departmentCreated{clock: clock},
		"department.updated": departmentUpdated{clock: clock},
		"department.deleted": departmentDeleted{},
		"employee.created":   employeeCreated{clock: clock},
		"employee.updated":   employeeUpdated{clock: clock},
		"employee.deleted":   employeeDeleted{},
		"skill.created":      skillCreated{clock: clock},
		"skill.updated":      skillUpdated{clock: clock},
		"skill.deleted":      skillDeleted{},
	}
}
