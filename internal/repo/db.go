// Package repo is the GORM persistence layer for the kiosk: membership cache
// rows, the segment registry, the offline check-in queue, the check-in log
// and idempotency records. Everything lives in one SQLite file opened through
// the pure-Go glebarez driver, so kiosk servers need no cgo toolchain.
package repo

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/checkin-kiosk/internal/domain"
)

// sqlitePragmas are applied to every pooled connection through the DSN.
// Bulk refresh upserts from several goroutines while the queue syncer and
// HTTP handlers write too, so WAL plus a busy timeout keeps writers waiting
// instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

const (
	maxOpenConns    = 8
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

// OpenSQLite opens (or creates) the kiosk database at path.
// The parent directory must already exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("database dir: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each connection would get its own empty in-memory database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxOpenConns)
	}
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// EnableTracing installs the GORM OpenTelemetry plugin so every query emits
// a span under the active request or job trace. Metrics stay with Prometheus.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates every kiosk table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.MembershipCacheEntry{},
		&domain.CustomerSegment{},
		&domain.CheckinQueueRecord{},
		&domain.CheckinLogRecord{},
		&domain.Idempotency{},
	)
}
