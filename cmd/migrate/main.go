package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/migrations"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

// Usage:
//
//	migrate               apply all pending migrations
//	migrate down          roll back one step
//	migrate force <ver>   mark the schema as <ver> after a failed run
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", "error", err)
	}
	logger := logging.New(cfg.LogLevel).With("service", "migrate", "env", cfg.Env)

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("open db", "error", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Fatal("ping db", "error", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("db driver", "error", err)
	}

	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatal("source driver", "error", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Fatal("create migrator", "error", err)
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case len(os.Args) >= 3 && os.Args[1] == "force":
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal("invalid version", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("force version", "error", err)
		}
		logger.Info("forced schema version", "version", version)
		return
	case len(os.Args) >= 2 && os.Args[1] == "down":
		if err := m.Steps(-1); err != nil {
			logger.Fatal("migrate down", "error", err)
		}
	default:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("migrate up", "error", err)
		}
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal("read schema version", "error", err)
	}
	logger.Info("migrations complete", "version", version, "dirty", dirty)
}
