package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"energytiles/internal/config"
)

const sqlitePrefix = "sqlite://"

// Connect opens a GORM database connection from APP_DATABASE_URL. A
// postgres:// URL selects PostgreSQL; sqlite://<path> selects the embedded
// pure-Go SQLite driver (sqlite://:memory: for a throwaway database).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required")
	}

	var dialector gorm.Dialector
	prepare := false
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
		prepare = true
	case strings.HasPrefix(dsn, sqlitePrefix):
		path := strings.TrimPrefix(dsn, sqlitePrefix)
		if path == "" {
			return nil, errors.New("APP_DATABASE_URL sqlite:// needs a path")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	default:
		return nil, errors.New("APP_DATABASE_URL must be a postgres://, postgresql:// or sqlite:// URL")
	}

	// PrepareStmt prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	// It stays off for SQLite, where statements prepared outside a transaction would
	// wait on the single connection the transaction holds.
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: prepare,
		Logger:      logger.Default.LogMode(logger.Warn),
		NowFunc:     func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	if _, ok := dialector.(*sqlite.Dialector); ok {
		// SQLite allows a single writer; one connection also keeps :memory: shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the core tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{}, &Session{}, &MFAChallenge{}, &SensorKey{},
		&Tile{}, &UserMetrics{}, &EnergyEvent{}, &TileBucket{},
	)
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		Username:     cfg.AdminUser,
		Email:        cfg.AdminEmail,
		PasswordHash: string(hash),
		Role:         RoleAdmin,
	}

	return db.Create(admin).Error
}

// EnsureBootstrapSensorKey provisions the configured sensor key so devices
// can post readings on a fresh install. An existing key is re-activated.
func EnsureBootstrapSensorKey(db *gorm.DB, cfg *config.Config) error {
	if cfg.SensorAPIKey == "" {
		return nil
	}

	// Use Find so "not found" doesn't log as error.
	var existing SensorKey
	if err := db.Where("token = ?", cfg.SensorAPIKey).Limit(1).Find(&existing).Error; err != nil {
		return err
	}
	if existing.ID != 0 {
		if existing.Active {
			return nil
		}
		return db.Model(&existing).Update("active", true).Error
	}

	return db.Create(&SensorKey{
		Name:   "bootstrap",
		Token:  cfg.SensorAPIKey,
		Active: true,
	}).Error
}
