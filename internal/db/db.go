// Package db opens the shared database connection backing the queue, log
// and tracking stores.
package db

import (
	"errors"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var ErrNoDSN = errors.New("db: MAIL_DB_DSN is not set")

// Open connects to the Postgres instance named by MAIL_DB_DSN. Returns
// ErrNoDSN when no DSN is configured, letting callers fall back to the
// in-memory stores.
func Open() (*gorm.DB, error) {
	dsn := os.Getenv("MAIL_DB_DSN")
	if dsn == "" {
		return nil, ErrNoDSN
	}

	gcfg := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}
	db, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	return db, nil
}
