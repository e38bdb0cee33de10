// Package db mirrors observation records into PostgreSQL.
package db

import (
	"fmt"
	"time"

	"consensus-observer/internal/config"
	"consensus-observer/internal/models"

	"github.com/cometbft/cometbft/libs/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormWriter routes GORM warnings into the process logger.
type gormWriter struct {
	log log.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Error(fmt.Sprintf(format, args...))
}

// Open opens a database connection using the provided configuration.
// It returns nil, nil when no database is configured.
func Open(cfg config.Config, l log.Logger) (*gorm.DB, error) {
	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, nil
	}

	// Only slow queries and errors reach the log
	newLogger := logger.New(
		gormWriter{log: l.With("module", "db")},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return gorm.Open(postgres.Open(cfg.DBDsn), &gorm.Config{Logger: newLogger})
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Block{},
		&models.BlockSignature{},
		&models.RoundVote{},
		&models.ConsensusSnapshot{},
	)
}
