// Package database opens the session history database.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mantonx/eraser/internal/config"
)

var DB *gorm.DB

// Initialize opens the database selected by cfg.Type, tunes the pool and
// migrates the schema. It also sets the package-level DB.
func Initialize(cfg config.DatabaseConfig, log hclog.Logger) (*gorm.DB, error) {
	log = log.Named("database")

	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}
	if cfg.LogQueries {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Type {
	case "postgres":
		db, err = connectPostgres(cfg, gormCfg)
	case "sqlite", "":
		db, err = connectSQLite(cfg, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	DB = db
	log.Info("database initialized", "type", cfg.Type)
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&RemovalSession{})
}

func connectPostgres(cfg config.DatabaseConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			host, cfg.Username, cfg.Password, cfg.Database, port)
	}

	return gorm.Open(postgres.Open(dsn), gormCfg)
}

func connectSQLite(cfg config.DatabaseConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "eraser.db")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	return gorm.Open(sqlite.Open(dbPath), gormCfg)
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
