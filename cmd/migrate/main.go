// Schema migration runner for LAUNCHPAD.
//
// Usage: migrate [up|down|version] (default up). GORM's AutoMigrate
// covers development; production deploys run versioned migrations
// through this binary instead.
package main

import (
	"errors"
	"fmt"
	"os"

	"launchpad/internal/config"
	"launchpad/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()
	logging.Init()
	defer logging.Sync()
	log := logging.S()

	cfg := config.Load()
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.DBName, cfg.Database.SSLMode)

	sourceURL := "file://migrations"
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		sourceURL = "file://" + v
	}

	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		log.Fatalw("migrate init failed", "error", err)
	}
	defer m.Close()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatalw("read version failed", "error", verr)
		}
		log.Infow("schema version", "version", version, "dirty", dirty)
		return
	default:
		log.Fatalw("unknown command", "command", command)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalw("migration failed", "command", command, "error", err)
	}
	log.Infow("migration complete", "command", command)
}
