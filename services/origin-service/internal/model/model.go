package model

import "time"

// Department is an origin-side aggregate. Version increases by one on every
// committed mutation and travels with every outbox event.
type Department struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	CostCenterCode string    `json:"cost_center_code"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int64     `json:"version"`
}

type Skill struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// Employee snapshots embed the full skills list so the replica can rebuild
// the association set from a single event.
type Employee struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	HireDate     *string    `json:"hire_date"`
	Position     *string    `json:"position"`
	DepartmentID *int64     `json:"departments_id"`
	IsActive     bool       `json:"is_active"`
	Version      int64      `json:"version"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at"`
	Skills       []Skill    `json:"skills"`
}
