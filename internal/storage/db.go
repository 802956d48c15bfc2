package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tss-coordinator/internal/config"
	"tss-coordinator/internal/logger"
	"tss-coordinator/internal/storage/models"
)

// uniqueViolation is the postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// DSN builds the postgres connection string.
func DSN(cfg config.DBConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode, cfg.TimeZone)
}

// InitDB opens the database connection.
func InitDB(cfg config.DBConfig) (*gorm.DB, error) {
	db, err := Open(DSN(cfg))
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Database connection successfully established.")
	return db, nil
}

// Open connects to postgres at dsn.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Wallet{},
		&models.KeyShareNode{},
		&models.KeyShareNodeMeta{},
		&models.WalletKSNode{},
		&models.TssSession{},
		&models.TssStage{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	logger.Log.Info("Database schema migrated.")
	return nil
}

// violatedConstraint returns the name of the unique constraint err broke, if any.
func violatedConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
