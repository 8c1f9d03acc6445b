// Command seed-origin loads a small demo dataset into the origin store
// through the versioned storage layer, so every row lands together with its
// outbox event. It issues creates, an update, and a delete to produce a
// realistic event mix on the stream.
package main

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/avelarde/hrsync/libs/config"
	"github.com/avelarde/hrsync/libs/db"
	"github.com/avelarde/hrsync/libs/runtime"
	"github.com/avelarde/hrsync/services/origin-service/internal/outbox"
	"github.com/avelarde/hrsync/services/origin-service/internal/storage"
)

func main() {
	_ = godotenv.Load()
	logger := runtime.NewLogger("seed-origin")

	ctx, stop := runtime.SignalContext()
	defer stop()

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool, outbox.NewRepository(), clockwork.NewRealClock())

	engineering, err := repo.CreateDepartment(ctx, "Engineering", "CC-100")
	if err != nil {
		logger.Error("seed failed", "err", err)
		panic(err)
	}
	peopleOps, err := repo.CreateDepartment(ctx, "People Operations", "CC-200")
	if err != nil {
		logger.Error("seed failed", "err", err)
		panic(err)
	}

	var skillIDs []int64
	for _, s := range []struct{ name, description string }{
		{"Go", "Backend services and tooling"},
		{"SQL", "Schema design and query tuning"},
		{"Kubernetes", "Cluster operations"},
	} {
		skill, err := repo.CreateSkill(ctx, s.name, s.description)
		if err != nil {
			logger.Error("seed failed", "err", err)
			panic(err)
		}
		skillIDs = append(skillIDs, skill.ID)
	}

	position := "Software Engineer"
	hireDate := "2024-03-01"
	ana, err := repo.CreateEmployee(ctx, storage.EmployeeInput{
		Name:         "Ana Souza",
		Email:        "ana.souza@example.com",
		Position:     &position,
		HireDate:     &hireDate,
		DepartmentID: &engineering.ID,
		SkillIDs:     skillIDs[:2],
	})
	if err != nil {
		logger.Error("seed failed", "err", err)
		panic(err)
	}

	recruiterRole := "Recruiter"
	recruiterStart := "2023-11-15"
	_, err = repo.CreateEmployee(ctx, storage.EmployeeInput{
		Name:         "Marcus Lee",
		Email:        "marcus.lee@example.com",
		Position:     &recruiterRole,
		HireDate:     &recruiterStart,
		DepartmentID: &peopleOps.ID,
	})
	if err != nil {
		logger.Error("seed failed", "err", err)
		panic(err)
	}

	// one update and one delete so the stream carries every event kind
	seniorRole := "Senior Software Engineer"
	if _, err := repo.UpdateEmployee(ctx, ana.ID, storage.EmployeeInput{
		Name:         ana.Name,
		Email:        ana.Email,
		Position:     &seniorRole,
		HireDate:     ana.HireDate,
		DepartmentID: ana.DepartmentID,
		SkillIDs:     skillIDs,
	}); err != nil {
		logger.Error("seed failed", "err", err)
		panic(err)
	}
	if err := repo.DeleteSkill(ctx, skillIDs[2]); err != nil {
		logger.Error("seed failed", "err", err)
		panic(err)
	}

	logger.Info("seed complete",
		"departments", 2,
		"skills", len(skillIDs),
		"employees", 2,
		"at", time.Now().Format(time.RFC3339),
	)
}
