// Package store provides the gorm-backed persistence layer for the indexer
// and the API.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "github.com/0xredeth/doneth/pkg/store"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection settings.
type Config struct {
	// Driver is postgres or sqlite. Empty infers it from DSN.
	Driver string

	// DSN is the connection string. For sqlite it is a file path or
	// "file::memory:".
	DSN string

	// MaxOpenConns caps open connections. sqlite is forced to 1.
	MaxOpenConns int

	// MaxIdleConns caps idle connections.
	MaxIdleConns int

	// ConnMaxLifetime recycles connections after this long.
	ConnMaxLifetime time.Duration

	// LogLevel is the gorm logger level.
	LogLevel logger.LogLevel
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LogLevel:        logger.Warn,
	}
}

// Store wraps a gorm connection.
type Store struct {
	db     *gorm.DB
	driver string
}

// New opens a database connection and verifies it with a ping.
//
// Returns:
//   - *Store: the connected store
//   - error: nil on success, connection error on failure
func New(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = inferDriver(cfg.DSN)
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(cfg.LogLevel),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}

	if driver == DriverSQLite {
		// One connection keeps in-memory databases shared and writes serial.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("database connected")

	return &Store{db: db, driver: driver}, nil
}

func inferDriver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return DriverPostgres
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or updates tables for dst. With no arguments it migrates
// the full schema.
func (s *Store) Migrate(dst ...interface{}) error {
	if len(dst) == 0 {
		dst = models.AllModels()
	}
	if err := s.db.AutoMigrate(dst...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Transaction runs fn in a database transaction. fn's error rolls back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// CreateInBatches inserts a slice of records in chunks of batchSize.
func (s *Store) CreateInBatches(ctx context.Context, records interface{}, batchSize int) error {
	return s.db.WithContext(ctx).CreateInBatches(records, batchSize).Error
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
