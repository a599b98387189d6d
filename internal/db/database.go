// Package db provides the relational store and routing store clients
// for LAUNCHPAD.
package db

import (
	"fmt"
	"time"

	"launchpad/internal/config"
	"launchpad/internal/logging"
	"launchpad/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM database instance.
type Database struct {
	DB *gorm.DB
}

// NewDatabase connects to PostgreSQL and runs migrations.
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password,
		cfg.DBName, cfg.SSLMode, cfg.TimeZone,
	)

	gdb, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	database := &Database{DB: gdb}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.S().Info("Database connected")
	return database, nil
}

// Migrate runs schema migrations for all models.
func (d *Database) Migrate() error {
	err := d.DB.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Deployment{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return d.createIndexes()
}

// createIndexes creates partial indexes GORM cannot express with tags.
func (d *Database) createIndexes() error {
	d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_deployments_owner_live ON deployments(user_id) WHERE status NOT IN ('failed', 'expired')")
	d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_deployments_expiry ON deployments(expires_at) WHERE expires_at IS NOT NULL")
	d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at)")
	return nil
}

// Health checks database connectivity.
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the underlying GORM database instance.
func (d *Database) GetDB() *gorm.DB {
	return d.DB
}
