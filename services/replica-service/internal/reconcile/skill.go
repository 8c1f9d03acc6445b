package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

type skillCreated struct {
	clock clockwork.Clock
}

func (h skillCreated) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	if _, ok := intField(evt.Data, "id"); !ok {
		return skip("skill id missing in payload"), nil
	}
	return upsertSkill(ctx, tx, evt.Data, h.clock)
}

type skillUpdated struct {
	clock clockwork.Clock
}

func (h skillUpdated) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	// Unlike skill.created, a missing id here is a hard failure: an update
	// for an unidentifiable skill is retried, not silently dropped.
	if _, ok := intField(evt.Data, "id"); !ok {
		return Result{}, errors.New("skill.updated payload without id")
	}
	return upsertSkill(ctx, tx, evt.Data, h.clock)
}

func upsertSkill(ctx context.Context, tx replica.Tx, p map[string]any, clock clockwork.Clock) (Result, error) {
	id, _ := intField(p, "id")

	existing, err := tx.GetSkill(ctx, id)
	if err != nil {
		return Result{}, err
	}

	version, haveVersion := intField(p, "version")
	if !haveVersion {
		if existing != nil {
			return Result{}, errors.New("skill version missing in payload")
		}
		version = 1
	}

	name, _ := strField(p, "name")
	description, _ := strField(p, "description")
	now := clock.Now().Format(time.RFC3339)

	updatedAt := now
	if v, ok := strField(p, "updated_at"); ok {
		updatedAt = v
	}

	if existing != nil {
		if version <= existing.Version {
			return skip("version outdated"), nil
		}
		return applied(), tx.UpdateSkill(ctx, replica.Skill{
			ID:          id,
			Name:        name,
			Description: description,
			CreatedAt:   existing.CreatedAt,
			UpdatedAt:   updatedAt,
			Version:     version,
		})
	}

	createdAt := now
	if v, ok := strField(p, "created_at"); ok {
		createdAt = v
	}
	return applied(), tx.InsertSkill(ctx, replica.Skill{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		Version:     version,
	})
}

type skillDeleted struct{}

func (h skillDeleted) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	p := unwrap(evt.Data, "skill")

	id, ok := intField(p, "id")
	if !ok {
		return skip("skill id not found in payload"), nil
	}

	existing, err := tx.GetSkill(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		return applied(), nil
	}

	version, ok := intField(p, "version")
	if !ok {
		return skip("invalid version"), nil
	}
	if version < existing.Version {
		return skip("version outdated"), nil
	}

	return applied(), tx.DeleteSkill(ctx, id)
}
