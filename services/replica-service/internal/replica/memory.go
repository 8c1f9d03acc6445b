package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/avelarde/hrsync/services/replica-service/internal/bookkeeping"
)

// MemStore is an in-memory Store. It backs the pipeline tests and mirrors
// the Postgres schema's referential behavior (deleting a department nulls
// employee references, deleting an employee drops its association rows).
type MemStore struct {
	mu             sync.Mutex
	Departments    map[int64]Department
	Skills         map[int64]Skill
	Employees      map[int64]Employee
	EmployeeSkills []EmployeeSkill
	Processed      map[string]bookkeeping.ProcessedEvent
}

func NewMemStore() *MemStore {
	return &MemStore{
		Departments: make(map[int64]Department),
		Skills:      make(map[int64]Skill),
		Employees:   make(map[int64]Employee),
		Processed:   make(map[string]bookkeeping.ProcessedEvent),
	}
}

func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{store: s}, nil
}

// SkillIDsFor returns the committed association set for an employee.
func (s *MemStore) SkillIDsFor(employeeID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, es := range s.EmployeeSkills {
		if es.EmployeeID == employeeID {
			ids = append(ids, es.SkillID)
		}
	}
	return ids
}

// memTx stages writes and applies them on Commit. Reads see committed state;
// no handler reads back its own writes within one transaction.
type memTx struct {
	store *MemStore
	ops   []func(*MemStore)
	done  bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		op(t.store)
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}

func (t *memTx) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if d, ok := t.store.Departments[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (t *memTx) InsertDepartment(ctx context.Context, d Department) error {
	t.ops = append(t.ops, func(s *MemStore) { s.Departments[d.ID] = d })
	return nil
}

func (t *memTx) UpdateDepartment(ctx context.Context, d Department) error {
	t.ops = append(t.ops, func(s *MemStore) { s.Departments[d.ID] = d })
	return nil
}

func (t *memTx) DeleteDepartment(ctx context.Context, id int64) error {
	t.ops = append(t.ops, func(s *MemStore) {
		delete(s.Departments, id)
		for eid, e := range s.Employees {
			if e.DepartmentID != nil && *e.DepartmentID == id {
				e.DepartmentID = nil
				s.Employees[eid] = e
			}
		}
	})
	return nil
}

func (t *memTx) GetSkill(ctx context.Context, id int64) (*Skill, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if sk, ok := t.store.Skills[id]; ok {
		return &sk, nil
	}
	return nil, nil
}

func (t *memTx) InsertSkill(ctx context.Context, sk Skill) error {
	t.ops = append(t.ops, func(s *MemStore) { s.Skills[sk.ID] = sk })
	return nil
}

func (t *memTx) UpdateSkill(ctx context.Context, sk Skill) error {
	t.ops = append(t.ops, func(s *MemStore) { s.Skills[sk.ID] = sk })
	return nil
}

func (t *memTx) DeleteSkill(ctx context.Context, id int64) error {
	t.ops = append(t.ops, func(s *MemStore) {
		delete(s.Skills, id)
		kept := s.EmployeeSkills[:0]
		for _, es := range s.EmployeeSkills {
			if es.SkillID != id {
				kept = append(kept, es)
			}
		}
		s.EmployeeSkills = kept
	})
	return nil
}

func (t *memTx) GetEmployee(ctx context.Context, id int64) (*Employee, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if e, ok := t.store.Employees[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (t *memTx) InsertEmployee(ctx context.Context, e Employee) error {
	t.ops = append(t.ops, func(s *MemStore) { s.Employees[e.ID] = e })
	return nil
}

func (t *memTx) UpdateEmployee(ctx context.Context, e Employee) error {
	t.ops = append(t.ops, func(s *MemStore) { s.Employees[e.ID] = e })
	return nil
}

func (t *memTx) DeleteEmployee(ctx context.Context, id int64) error {
	t.ops = append(t.ops, func(s *MemStore) {
		delete(s.Employees, id)
		kept := s.EmployeeSkills[:0]
		for _, es := range s.EmployeeSkills {
			if es.EmployeeID != id {
				kept = append(kept, es)
			}
		}
		s.EmployeeSkills = kept
	})
	return nil
}

func (t *memTx) ReplaceEmployeeSkills(ctx context.Context, employeeID int64, skillIDs []int64, version int64) error {
	t.ops = append(t.ops, func(s *MemStore) {
		kept := s.EmployeeSkills[:0]
		for _, es := range s.EmployeeSkills {
			if es.EmployeeID != employeeID {
				kept = append(kept, es)
			}
		}
		s.EmployeeSkills = kept
		for _, skillID := range skillIDs {
			s.EmployeeSkills = append(s.EmployeeSkills, EmployeeSkill{
				EmployeeID: employeeID,
				SkillID:    skillID,
				Version:    version,
			})
		}
	})
	return nil
}

func (t *memTx) InsertProcessedEvent(ctx context.Context, ev bookkeeping.ProcessedEvent) error {
	t.store.mu.Lock()
	_, exists := t.store.Processed[ev.EventID]
	t.store.mu.Unlock()
	if exists {
		return fmt.Errorf("duplicate key value violates unique constraint on event_id %s", ev.EventID)
	}
	t.ops = append(t.ops, func(s *MemStore) { s.Processed[ev.EventID] = ev })
	return nil
}
