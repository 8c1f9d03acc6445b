package reconcile

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/services/replica-service/internal/replica"
)

type employeeCreated struct {
	clock clockwork.Clock
}

func (h employeeCreated) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	return upsertEmployee(ctx, tx, evt.Data, h.clock, true)
}

type employeeUpdated struct {
	clock clockwork.Clock
}

func (h employeeUpdated) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	return upsertEmployee(ctx, tx, evt.Data, h.clock, false)
}

func upsertEmployee(ctx context.Context, tx replica.Tx, p map[string]any, clock clockwork.Clock, isCreate bool) (Result, error) {
	id, ok := intField(p, "id")
	if !ok {
		if isCreate {
			return Result{}, errors.New("employee id missing in payload")
		}
		return skip("employee id missing in payload"), nil
	}

	version, ok := intField(p, "version")
	if !ok {
		return Result{}, errors.New("invalid employee version")
	}

	name, _ := strField(p, "name")
	email, _ := strField(p, "email")

	var position *string
	if v, ok := strField(p, "position"); ok && v != "" {
		position = &v
	}

	var hireDate *string
	if v, ok := strField(p, "hire_date"); ok && v != "" {
		d := datePart(v)
		hireDate = &d
	}

	// The referenced department may not have been replicated (or may have
	// been deleted out of order); a dangling reference is nulled, never an
	// error.
	var departmentID *int64
	if deptID, ok := intField(p, "departments_id"); ok {
		dept, err := tx.GetDepartment(ctx, deptID)
		if err != nil {
			return Result{}, err
		}
		if dept != nil {
			departmentID = &deptID
		}
	}

	existing, err := tx.GetEmployee(ctx, id)
	if err != nil {
		return Result{}, err
	}

	isActive, haveActive := boolField(p, "is_active")

	var deletedAt *string
	if v, ok := strField(p, "deleted_at"); ok && v != "" {
		deletedAt = &v
	}

	if existing != nil {
		if version <= existing.Version {
			return skip("version outdated"), nil
		}
		e := replica.Employee{
			ID:           id,
			Name:         name,
			Email:        email,
			Position:     position,
			HireDate:     hireDate,
			DepartmentID: departmentID,
			IsActive:     existing.IsActive,
			Version:      version,
			UpdatedAt:    clock.Now(),
			DeletedAt:    existing.DeletedAt,
		}
		if haveActive {
			e.IsActive = isActive
		}
		if deletedAt != nil {
			e.DeletedAt = deletedAt
		}
		if err := tx.UpdateEmployee(ctx, e); err != nil {
			return Result{}, err
		}
	} else {
		e := replica.Employee{
			ID:           id,
			Name:         name,
			Email:        email,
			Position:     position,
			HireDate:     hireDate,
			DepartmentID: departmentID,
			IsActive:     true,
			Version:      version,
			UpdatedAt:    clock.Now(),
			DeletedAt:    deletedAt,
		}
		if haveActive {
			e.IsActive = isActive
		}
		if err := tx.InsertEmployee(ctx, e); err != nil {
			return Result{}, err
		}
	}

	// The association set is replaced wholesale: an empty or missing skills
	// list clears every prior association.
	if err := tx.ReplaceEmployeeSkills(ctx, id, skillIDs(p), version); err != nil {
		return Result{}, err
	}
	return applied(), nil
}

type employeeDeleted struct{}

func (h employeeDeleted) Apply(ctx context.Context, tx replica.Tx, evt Event) (Result, error) {
	p := unwrap(evt.Data, "employee")

	id, ok := intField(p, "id")
	if !ok {
		return skip("employee id not found in payload"), nil
	}

	existing, err := tx.GetEmployee(ctx, id)
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

	return applied(), tx.DeleteEmployee(ctx, id)
}
