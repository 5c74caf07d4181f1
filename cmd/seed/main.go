package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

const (
	branchCount       = 3
	doctorsPerBranch  = 8
	patientCount      = 5000
	patientBatchSize  = 500
	sessionsPerDoctor = 3
)

var branchNames = []string{"Colombo", "Kandy", "Galle", "Negombo", "Kurunegala"}

// sessions are the clinic blocks a doctor can be rostered on.
var sessions = []struct {
	start, end string
	slot       int
}{
	{"08:00", "12:00", 15},
	{"09:00", "11:00", 10},
	{"14:00", "17:00", 20},
	{"17:30", "20:30", 15},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", "error", err)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	gofakeit.Seed(0)

	branches, err := seedBranches(ctx, pool, branchCount)
	if err != nil {
		logger.Fatal("seed branches", "error", err)
	}
	logger.Info("branches seeded", "count", len(branches))

	doctors, err := seedDoctors(ctx, pool, branches)
	if err != nil {
		logger.Fatal("seed doctors", "error", err)
	}
	logger.Info("doctors and schedules seeded", "count", doctors)

	for offset := 0; offset < patientCount; offset += patientBatchSize {
		end := min(offset+patientBatchSize, patientCount)
		if err := seedPatients(ctx, pool, end-offset); err != nil {
			logger.Fatal("seed patients", "error", err)
		}
		logger.Info("patients seeded", "done", end, "total", patientCount)
	}

	logger.Info("seed complete")
}

func phoneNumber() string {
	return fmt.Sprintf("07%08d", gofakeit.Number(0, 99999999))
}

func seedBranches(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			name := branchNames[i%len(branchNames)] + " Medical Centre"
			if _, err := tx.Exec(ctx, `INSERT INTO branches (id, name) VALUES ($1, $2)`, id, name); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// seedDoctors adds doctors to every branch, each with weekly sessions on
// random weekdays.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, branches []uuid.UUID) (int, error) {
	count := 0
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, branchID := range branches {
			for i := 0; i < doctorsPerBranch; i++ {
				doctorID := uuid.New()
				fee := fmt.Sprintf("%d.00", gofakeit.Number(10, 40)*100)
				_, err := tx.Exec(ctx, `
					INSERT INTO doctors (id, branch_id, name, phone, booking_fee)
					VALUES ($1, $2, $3, $4, $5::numeric)
				`, doctorID, branchID, "Dr. "+gofakeit.Name(), phoneNumber(), fee)
				if err != nil {
					return err
				}

				used := map[int]bool{}
				for len(used) < sessionsPerDoctor {
					day := gofakeit.Number(1, 6)
					if used[day] {
						continue
					}
					used[day] = true

					s := sessions[gofakeit.Number(0, len(sessions)-1)]
					_, err := tx.Exec(ctx, `
						INSERT INTO doctor_schedules
							(id, doctor_id, branch_id, day_of_week, start_time, end_time, slot_minutes, max_patients)
						VALUES ($1, $2, $3, $4, $5::time, $6::time, $7, $8)
					`, uuid.New(), doctorID, branchID, day, s.start, s.end, s.slot, gofakeit.Number(0, 1)*20)
					if err != nil {
						return err
					}
				}
				count++
			}
		}
		return nil
	})
	return count, err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		batch.Queue(`
			INSERT INTO patients (id, name, phone, email)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), gofakeit.Name(), phoneNumber(), gofakeit.Email())
	}
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}
