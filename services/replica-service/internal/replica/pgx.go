package replica

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/avelarde/hrsync/libs/db"
	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
)

type pgxStore struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) Store {
	return &pgxStore{pool: pool}
}

func (s *pgxStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *pgxTx) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	var d Department
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, cost_center_code, created_at, updated_at, version
		FROM departments WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.CostCenterCode, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgxTx) InsertDepartment(ctx context.Context, d Department) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO departments (id, name, cost_center_code, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.Name, d.CostCenterCode, d.CreatedAt, d.UpdatedAt, d.Version)
	return err
}

func (t *pgxTx) UpdateDepartment(ctx context.Context, d Department) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE departments
		SET name = $2, cost_center_code = $3, updated_at = $4, version = $5
		WHERE id = $1
	`, d.ID, d.Name, d.CostCenterCode, d.UpdatedAt, d.Version)
	return err
}

// The replica schema carries no foreign keys (rows arrive in any order), so
// deletes clean up references explicitly.
func (t *pgxTx) DeleteDepartment(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE employees SET departments_id = NULL WHERE departments_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id)
	return err
}

func (t *pgxTx) GetSkill(ctx context.Context, id int64) (*Skill, error) {
	var s Skill
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at, version
		FROM skills WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt, &s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgxTx) InsertSkill(ctx context.Context, s Skill) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO skills (id, name, description, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.Description, s.CreatedAt, s.UpdatedAt, s.Version)
	return err
}

func (t *pgxTx) UpdateSkill(ctx context.Context, s Skill) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE skills
		SET name = $2, description = $3, updated_at = $4, version = $5
		WHERE id = $1
	`, s.ID, s.Name, s.Description, s.UpdatedAt, s.Version)
	return err
}

func (t *pgxTx) DeleteSkill(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM employee_skills WHERE skill_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM skills WHERE id = $1`, id)
	return err
}

func (t *pgxTx) GetEmployee(ctx context.Context, id int64) (*Employee, error) {
	var e Employee
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, email, position, hire_date::text, departments_id, is_active, version, updated_at, deleted_at::text
		FROM employees WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.Email, &e.Position, &e.HireDate, &e.DepartmentID, &e.IsActive, &e.Version, &e.UpdatedAt, &e.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgxTx) InsertEmployee(ctx context.Context, e Employee) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO employees (id, name, email, position, hire_date, departments_id, is_active, version, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10::timestamptz)
	`, e.ID, e.Name, e.Email, e.Position, e.HireDate, e.DepartmentID, e.IsActive, e.Version, e.UpdatedAt, e.DeletedAt)
	return err
}

func (t *pgxTx) UpdateEmployee(ctx context.Context, e Employee) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE employees
		SET name = $2, email = $3, position = $4, hire_date = $5::date, departments_id = $6,
		    is_active = $7, version = $8, updated_at = $9, deleted_at = $10::timestamptz
		WHERE id = $1
	`, e.ID, e.Name, e.Email, e.Position, e.HireDate, e.DepartmentID, e.IsActive, e.Version, e.UpdatedAt, e.DeletedAt)
	return err
}

func (t *pgxTx) DeleteEmployee(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM employee_skills WHERE employee_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM employees WHERE id = $1`, id)
	return err
}

func (t *pgxTx) ReplaceEmployeeSkills(ctx context.Context, employeeID int64, skillIDs []int64, version int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM employee_skills WHERE employee_id = $1`, employeeID); err != nil {
		return err
	}
	for _, skillID := range skillIDs {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO employee_skills (employee_id, skill_id, version)
			VALUES ($1, $2, $3)
		`, employeeID, skillID, version); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgxTx) InsertProcessedEvent(ctx context.Context, ev bookkeeping.ProcessedEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, stream_id, aggregate_id, aggregate_type, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.EventID, ev.EventType, ev.StreamID, ev.AggregateID, ev.AggregateType, ev.ProcessedAt, ev.CreatedAt)
	return err
}
