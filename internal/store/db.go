// Package store persists stored events and small pieces of sync state in
// SQLite through gorm.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appLog "shiftcal/internal/log"
)

// At most one active record per identity key; inactive history rows may
// repeat a key.
const activeKeyIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_stored_events_active_key
ON stored_events (year_month, day, label, start_time, end_time)
WHERE state IN ('pending_create', 'synced')
`

// Store is the local record set. It is safe for concurrent use; SQLite
// serializes writers.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at dsn and migrates it.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: empty dsn")
	}
	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		gormWriter{},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(withPragmas(dsn)), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	if err := db.AutoMigrate(&eventRow{}, &setting{}); err != nil {
		return nil, fmt.Errorf("store: migrate db: %w", err)
	}
	if err := db.Exec(activeKeyIndexSQL).Error; err != nil {
		return nil, fmt.Errorf("store: create active key index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func withPragmas(dsn string) string {
	if isMemory(dsn) || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_journal_mode=WAL&_busy_timeout=5000"
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if isMemory(dsn) {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create db dir %q: %w", dir, err)
	}
	return nil
}

// gormWriter routes gorm's own log lines into the application logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	appLog.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}
