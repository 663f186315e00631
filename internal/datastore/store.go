// Package datastore persists locks, the violation log and the whitelist with
// GORM on SQLite or MySQL.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// DefaultSlowQueryThreshold is the duration above which queries are logged as slow.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Store owns the database handle and the three repositories.
type Store struct {
	db     *gorm.DB
	broker *broker
	log    logger.Logger

	locks      *LockRepository
	violations *ViolationRepository
	whitelist  *WhitelistRepository
}

// Open selects MySQL when enabled, SQLite otherwise.
func Open(settings *conf.OutputSettings) (*Store, error) {
	if settings.MySQL.Enabled {
		return OpenMySQL(&settings.MySQL)
	}
	return OpenSQLite(settings.SQLite.Path)
}

// OpenSQLite opens or creates the SQLite database at path. WAL mode and a
// busy timeout let lookups run while another connection writes; immediate
// transactions keep the conditional lock insert free of upgrade deadlocks.
func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, errors.Newf("sqlite path is empty").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, dbError(err, "create_directory", errors.PriorityHigh, "path", dir)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical, "db_type", "sqlite", "path", path)
	}
	return newStore(db, "sqlite", path)
}

// OpenMySQL connects to the configured MySQL database.
func OpenMySQL(settings *conf.MySQLSettings) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		settings.Username, settings.Password,
		settings.Host, settings.Port,
		settings.Database)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical,
			"db_type", "mysql",
			"host", settings.Host,
			"database", settings.Database)
	}
	return newStore(db, "mysql", settings.Host+"/"+settings.Database)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold),
	}
}

func newStore(db *gorm.DB, dbType, connectionInfo string) (*Store, error) {
	if err := db.AutoMigrate(&LockedApp{}, &ViolationLog{}, &WhitelistedApp{}); err != nil {
		return nil, dbError(err, "auto_migrate", errors.PriorityCritical, "db_type", dbType)
	}

	s := &Store{
		db:     db,
		broker: newBroker(),
		log:    GetLogger(),
	}
	s.locks = &LockRepository{db: db, broker: s.broker}
	s.violations = &ViolationRepository{db: db, broker: s.broker}
	s.whitelist = &WhitelistRepository{db: db, broker: s.broker}

	s.log.Info("database initialized",
		logger.String("db_type", dbType),
		logger.String("connection", connectionInfo))
	return s, nil
}

// Locks returns the lock repository.
func (s *Store) Locks() *LockRepository { return s.locks }

// Violations returns the violation log repository.
func (s *Store) Violations() *ViolationRepository { return s.violations }

// Whitelist returns the whitelist repository.
func (s *Store) Whitelist() *WhitelistRepository { return s.whitelist }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping", "")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", "")
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}
