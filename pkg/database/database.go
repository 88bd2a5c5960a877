package database

import (
	"fmt"
	"time"

	"pulsestream/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DBConfig holds the database configuration
type DBConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Initialize initializes the database connection with the provided configuration
func Initialize(config DBConfig) error {
	var err error

	// Set default log level if not specified
	logLevel := config.LogLevel
	if logLevel == 0 {
		logLevel = logger.Warn
	}

	// Connect with PreferSimpleProtocol to prevent "prepared statement
	// already exists" errors behind pgbouncer
	pgConfig := postgres.Config{
		DSN:                  config.DSN,
		PreferSimpleProtocol: true,
	}

	DB, err = gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}

	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := migrate(DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// migrate creates or updates the table structure based on our models,
// then the indexes gorm tags cannot express.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Tenant{}, &model.User{}, &model.Event{}); err != nil {
		return err
	}

	// Idempotency relies on a partial unique index: a full unique index
	// on (tenant_id, external_id) would reject every NULL external id
	// beyond the first.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_tenant_external_id
		 ON events (tenant_id, external_id)
		 WHERE external_id IS NOT NULL AND deleted_at IS NULL`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
