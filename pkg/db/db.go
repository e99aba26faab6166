package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/docuflow/ingest-backend/config"
)

// GetConnection opens the shared gorm connection using the database
// section of the global config. Pool limits fall back to sane defaults
// when unset.
func GetConnection(databaseConfig *config.DatabaseConfig) *gorm.DB {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=%s",
		databaseConfig.Host,
		databaseConfig.Username,
		databaseConfig.Password,
		databaseConfig.Name,
		databaseConfig.Port,
		databaseConfig.TimeZone,
	)

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), &gorm.Config{
		QueryFields: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		log.Fatalf("opening database connection: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("accessing connection pool: %v", err)
	}
	idle := databaseConfig.Pool.IdleConnections
	if idle <= 0 {
		idle = 5
	}
	open := databaseConfig.Pool.MaxConnections
	if open <= 0 {
		open = 10
	}
	lifetime := databaseConfig.Pool.ConnLifeTime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	sqlDB.SetMaxIdleConns(idle)
	sqlDB.SetMaxOpenConns(open)
	sqlDB.SetConnMaxLifetime(lifetime)

	return db
}
