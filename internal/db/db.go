package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.EnableTimescale && db.Dialector.Name() == "postgres" {
		log.Println("TimescaleDB is enabled, applying TimescaleDB-specific DDL...")
		if err := applyTimescaleDDL(db); err != nil {
			log.Printf("Warning: failed to apply some TimescaleDB DDL: %v. Continuing without them.", err)
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates every table the scheduler owns.
func Migrate(db *gorm.DB) error {
	log.Println("Running database migrations...")
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// applyTimescaleDDL turns machine_usages into a hypertable partitioned on
// observed_end. Hypertables need the time column in every unique key, so the
// primary key widens to (id, observed_end) first. Running it again on an
// existing hypertable only re-checks the extensions.
func applyTimescaleDDL(db *gorm.DB) error {
	extensions := []string{
		"CREATE EXTENSION IF NOT EXISTS timescaledb;",
		"CREATE EXTENSION IF NOT EXISTS btree_gist;",
	}
	for _, ddl := range extensions {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}

	var exists bool
	err := db.Raw("SELECT EXISTS (SELECT 1 FROM timescaledb_information.hypertables WHERE hypertable_name = ?)", "machine_usages").
		Scan(&exists).Error
	if err != nil {
		return fmt.Errorf("failed to inspect hypertables: %w", err)
	}
	if exists {
		return nil
	}

	ddls := []string{
		"ALTER TABLE machine_usages DROP CONSTRAINT IF EXISTS machine_usages_pkey;",
		"ALTER TABLE machine_usages ADD PRIMARY KEY (id, observed_end);",
		"SELECT create_hypertable('machine_usages', 'observed_end', migrate_data => TRUE, if_not_exists => TRUE);",

		"ALTER TABLE machine_usages " +
			"ADD CONSTRAINT machine_usages_period_valid CHECK (period_start <= period_end);",

		// Closed range: a zero-length run still occupies its instant.
		"CREATE INDEX IF NOT EXISTS idx_machine_usages_period ON machine_usages " +
			"USING GIST (machine_id, tstzrange(period_start, period_end, '[]'));",

		"CREATE INDEX IF NOT EXISTS idx_machine_usages_machine_observed_end ON machine_usages (machine_id, observed_end DESC);",
	}
	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
