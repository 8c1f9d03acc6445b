// Package replica owns the replica-side aggregate tables. Apply order is
// governed solely by the version column; wall-clock time never decides.
package replica

import (
	"context"
	"time"

	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
)

// Department mirrors the origin aggregate. Timestamp columns are carried as
// opaque strings: they are display data copied from event payloads, never
// compared.
type Department struct {
	ID             int64
	Name           string
	CostCenterCode string
	CreatedAt      string
	UpdatedAt      string
	Version        int64
}

type Skill struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   string
	UpdatedAt   string
	Version     int64
}

type Employee struct {
	ID           int64
	Name         string
	Email        string
	Position     *string
	HireDate     *string
	DepartmentID *int64
	IsActive     bool
	Version      int64
	UpdatedAt    time.Time
	DeletedAt    *string
}

// EmployeeSkill is one row of the association set, which is always replaced
// wholesale from the incoming event.
type EmployeeSkill struct {
	EmployeeID int64
	SkillID    int64
	Version    int64
}

// Store opens one transaction per consumed message.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the unit of work one reconciliation runs in. Get methods return nil
// (not an error) for an absent row.
type Tx interface {
	GetDepartment(ctx context.Context, id int64) (*Department, error)
	InsertDepartment(ctx context.Context, d Department) error
	UpdateDepartment(ctx context.Context, d Department) error
	DeleteDepartment(ctx context.Context, id int64) error

	GetSkill(ctx context.Context, id int64) (*Skill, error)
	InsertSkill(ctx context.Context, s Skill) error
	UpdateSkill(ctx context.Context, s Skill) error
	DeleteSkill(ctx context.Context, id int64) error

	GetEmployee(ctx context.Context, id int64) (*Employee, error)
	InsertEmployee(ctx context.Context, e Employee) error
	UpdateEmployee(ctx context.Context, e Employee) error
	DeleteEmployee(ctx context.Context, id int64) error
	ReplaceEmployeeSkills(ctx context.Context, employeeID int64, skillIDs []int64, version int64) error

	InsertProcessedEvent(ctx context.Context, ev bookkeeping.ProcessedEvent) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
