package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/libs/db"
	"github.com/avelarde/hrsync/services/origin-service/internal/model"
	"github.com/avelarde/hrsync/services/origin-service/internal/outbox"
)

// Repository owns the origin store. Every mutation bumps the aggregate
// version and appends the matching outbox event inside the same transaction,
// which is the only contract the replication core relies on.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	clock  clockwork.Clock
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository, clock clockwork.Clock) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo, clock: clock}
}

func (r *Repository) CreateDepartment(ctx context.Context, name, costCenterCode string) (*model.Department, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.clock.Now()
	d := model.Department{Name: name, CostCenterCode: costCenterCode, CreatedAt: now, UpdatedAt: now, Version: 1}
	if err := tx.QueryRow(ctx, `
		INSERT INTO departments (name, cost_center_code, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, d.Name, d.CostCenterCode, d.CreatedAt, d.UpdatedAt, d.Version).Scan(&d.ID); err != nil {
		return nil, err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "department.created",
		AggregateType: "department",
		AggregateID:   d.ID,
		Version:       d.Version,
		Payload:       d,
	}); err != nil {
		return nil, err
	}
	return &d, tx.Commit(ctx)
}

func (r *Repository) UpdateDepartment(ctx context.Context, id int64, name, costCenterCode string) (*model.Department, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var d model.Department
	if err := tx.QueryRow(ctx, `
		UPDATE departments
		SET name = $2, cost_center_code = $3, updated_at = $4, version = version + 1
		WHERE id = $1
		RETURNING id, name, cost_center_code, created_at, updated_at, version
	`, id, name, costCenterCode, r.clock.Now()).Scan(&d.ID, &d.Name, &d.CostCenterCode, &d.CreatedAt, &d.UpdatedAt, &d.Version); err != nil {
		return nil, err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "department.updated",
		AggregateType: "department",
		AggregateID:   d.ID,
		Version:       d.Version,
		Payload:       d,
	}); err != nil {
		return nil, err
	}
	return &d, tx.Commit(ctx)
}

// DeleteDepartment records the deletion event at the aggregate's current
// version, matching the delete comparator on the replica side.
func (r *Repository) DeleteDepartment(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var d model.Department
	if err := tx.QueryRow(ctx, `
		SELECT id, name, cost_center_code, created_at, updated_at, version
		FROM departments WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.CostCenterCode, &d.CreatedAt, &d.UpdatedAt, &d.Version); err != nil {
		return err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "department.deleted",
		AggregateType: "department",
		AggregateID:   d.ID,
		Version:       d.Version,
		Payload:       d,
	}); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) CreateSkill(ctx context.Context, name, description string) (*model.Skill, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.clock.Now()
	s := model.Skill{Name: name, Description: description, CreatedAt: now, UpdatedAt: now, Version: 1}
	if err := tx.QueryRow(ctx, `
		INSERT INTO skills (name, description, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.Name, s.Description, s.CreatedAt, s.UpdatedAt, s.Version).Scan(&s.ID); err != nil {
		return nil, err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "skill.created",
		AggregateType: "skill",
		AggregateID:   s.ID,
		Version:       s.Version,
		Payload:       s,
	}); err != nil {
		return nil, err
	}
	return &s, tx.Commit(ctx)
}

func (r *Repository) UpdateSkill(ctx context.Context, id int64, name, description string) (*model.Skill, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var s model.Skill
	if err := tx.QueryRow(ctx, `
		UPDATE skills
		SET name = $2, description = $3, updated_at = $4, version = version + 1
		WHERE id = $1
		RETURNING id, name, description, created_at, updated_at, version
	`, id, name, description, r.clock.Now()).Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt, &s.Version); err != nil {
		return nil, err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "skill.updated",
		AggregateType: "skill",
		AggregateID:   s.ID,
		Version:       s.Version,
		Payload:       s,
	}); err != nil {
		return nil, err
	}
	return &s, tx.Commit(ctx)
}

func (r *Repository) DeleteSkill(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var s model.Skill
	if err := tx.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at, version
		FROM skills WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt, &s.Version); err != nil {
		return err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "skill.deleted",
		AggregateType: "skill",
		AggregateID:   s.ID,
		Version:       s.Version,
		Payload:       s,
	}); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM employee_skills WHERE skill_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM skills WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EmployeeInput carries the mutable employee fields plus the full desired
// skill-id set; associations are replaced, not merged.
type EmployeeInput struct {
	Name         string
	Email        string
	Position     *string
	HireDate     *string
	DepartmentID *int64
	SkillIDs     []int64
}

func (r *Repository) CreateEmployee(ctx context.Context, in EmployeeInput) (*model.Employee, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.clock.Now()
	e := model.Employee{
		Name:         in.Name,
		Email:        in.Email,
		Position:     in.Position,
		HireDate:     in.HireDate,
		DepartmentID: in.DepartmentID,
		IsActive:     true,
		Version:      1,
		UpdatedAt:    now,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO employees (name, email, position, hire_date, departments_id, is_active, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.Name, e.Email, e.Position, e.HireDate, e.DepartmentID, e.IsActive, e.Version, e.UpdatedAt).Scan(&e.ID); err != nil {
		return nil, err
	}

	if err := r.syncEmployeeSkills(ctx, tx, e.ID, in.SkillIDs, e.Version); err != nil {
		return nil, err
	}
	if e.Skills, err = r.loadSkills(ctx, tx, e.ID); err != nil {
		return nil, err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "employee.created",
		AggregateType: "employee",
		AggregateID:   e.ID,
		Version:       e.Version,
		Payload:       e,
	}); err != nil {
		return nil, err
	}
	return &e, tx.Commit(ctx)
}

func (r *Repository) UpdateEmployee(ctx context.Context, id int64, in EmployeeInput) (*model.Employee, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var e model.Employee
	if err := tx.QueryRow(ctx, `
		UPDATE employees
		SET name = $2, email = $3, position = $4, hire_date = $5, departments_id = $6, updated_at = $7, version = version + 1
		WHERE id = $1
		RETURNING id, name, email, position, hire_date, departments_id, is_active, version, updated_at, deleted_at
	`, id, in.Name, in.Email, in.Position, in.HireDate, in.DepartmentID, r.clock.Now()).Scan(
		&e.ID, &e.Name, &e.Email, &e.Position, &e.HireDate, &e.DepartmentID, &e.IsActive, &e.Version, &e.UpdatedAt, &e.DeletedAt,
	); err != nil {
		return nil, err
	}

	if err := r.syncEmployeeSkills(ctx, tx, e.ID, in.SkillIDs, e.Version); err != nil {
		return nil, err
	}
	if e.Skills, err = r.loadSkills(ctx, tx, e.ID); err != nil {
		return nil, err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "employee.updated",
		AggregateType: "employee",
		AggregateID:   e.ID,
		Version:       e.Version,
		Payload:       e,
	}); err != nil {
		return nil, err
	}
	return &e, tx.Commit(ctx)
}

func (r *Repository) DeleteEmployee(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var e model.Employee
	if err := tx.QueryRow(ctx, `
		SELECT id, name, email, position, hire_date, departments_id, is_active, version, updated_at, deleted_at
		FROM employees WHERE id = $1
	`, id).Scan(
		&e.ID, &e.Name, &e.Email, &e.Position, &e.HireDate, &e.DepartmentID, &e.IsActive, &e.Version, &e.UpdatedAt, &e.DeletedAt,
	); err != nil {
		return err
	}
	if e.Skills, err = r.loadSkills(ctx, tx, e.ID); err != nil {
		return err
	}

	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:     "employee.deleted",
		AggregateType: "employee",
		AggregateID:   e.ID,
		Version:       e.Version,
		Payload:       e,
	}); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM employee_skills WHERE employee_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM employees WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) syncEmployeeSkills(ctx context.Context, tx pgx.Tx, employeeID int64, skillIDs []int64, version int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM employee_skills WHERE employee_id = $1`, employeeID); err != nil {
		return err
	}
	for _, skillID := range skillIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO employee_skills (employee_id, skill_id, level, version)
			VALUES ($1, $2, 1, $3)
		`, employeeID, skillID, version); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) loadSkills(ctx context.Context, tx pgx.Tx, employeeID int64) ([]model.Skill, error) {
	rows, err := tx.Query(ctx, `
		SELECT s.id, s.name, s.description, s.created_at, s.updated_at, s.version
		FROM skills s
		JOIN employee_skills es ON es.skill_id = s.id
		WHERE es.employee_id = $1
		ORDER BY s.id
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skills []model.Skill
	for rows.Next() {
		var s model.Skill
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt, &s.Version); err != nil {
			return nil, err
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}
