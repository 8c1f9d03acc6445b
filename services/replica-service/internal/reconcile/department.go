package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

type departmentCreated struct {
	clock clockwork.Clock
}

func (h departmentCreated) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	return upsertDepartment(ctx, tx, evt.Data, h.clock, true)
}

type departmentUpdated struct {
	clock clockwork.Clock
}

func (h departmentUpdated) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	return upsertDepartment(ctx, tx, evt.Data, h.clock, false)
}

// upsertDepartment implements the shared create/update rule: insert when the
// row is absent, otherwise apply only a strictly newer version. The two
// event kinds differ only in which timestamps seed a fresh row.
func upsertDepartment(ctx context.Context, tx replica.Tx, p map[string]any, clock clockwork.Clock, isCreate bool) (Result, error) {
	id, ok := intField(p, "id")
	if !ok {
		return Result{}, errors.New("department id missing in payload")
	}

	existing, err := tx.GetDepartment(ctx, id)
	if err != nil {
		return Result{}, err
	}

	version, haveVersion := intField(p, "version")
	if !haveVersion {
		if existing != nil || !isCreate {
			return Result{}, errors.New("department version missing in payload")
		}
		version = 1
	}

	name, _ := strField(p, "name")
	costCenter, _ := strField(p, "cost_center_code")
	now := clock.Now().Format(time.RFC3339)

	if existing != nil {
		if version <= existing.Version {
			return skip("version outdated"), nil
		}
		return applied(), tx.UpdateDepartment(ctx, replica.Department{
			ID:             id,
			Name:           name,
			CostCenterCode: costCenter,
			CreatedAt:      existing.CreatedAt,
			UpdatedAt:      now,
			Version:        version,
		})
	}

	createdAt, updatedAt := now, now
	if !isCreate {
		if v, ok := strField(p, "created_at"); ok {
			createdAt = v
		}
		if v, ok := strField(p, "updated_at"); ok {
			updatedAt = v
		}
	}
	return applied(), tx.InsertDepartment(ctx, replica.Department{
		ID:             id,
		Name:           name,
		CostCenterCode: costCenter,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Version:        version,
	})
}

type departmentDeleted struct{}

func (h departmentDeleted) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	p := evt.Data

	id, ok := intField(p, "id")
	if !ok {
		return skip("department id not found in payload"), nil
	}

	existing, err := tx.GetDepartment(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		// Already convergent.
		return applied(), nil
	}

	version, ok := intField(p, "version")
	if !ok {
		return skip("invalid version"), nil
	}
	// Deletes apply on an equal version as well; updates require strictly
	// newer. The asymmetry is deliberate and covered by tests.
	if version < existing.Version {
		return skip("version outdated"), nil
	}

	return applied(), tx.DeleteDepartment(ctx, id)
}
