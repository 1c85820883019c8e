// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping for SQLite
// (pure Go driver, the default) and Postgres (pgx), and schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/CharlesTogle/umak-link-sub000/internal/config"
	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
)

// Open opens the database selected by cfg.Driver. When traced is true the
// GORM OpenTelemetry plugin is installed so every query becomes a span.
func Open(cfg config.DBConfig, traced bool) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = OpenPostgres(cfg.URL)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if traced {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("install gorm tracing: %w", err)
		}
	}
	return db, nil
}

// poolLimits tunes database/sql pooling per driver.
type poolLimits struct {
	maxOpen, maxIdle int
	idleTime         time.Duration
	lifetime         time.Duration
}

var (
	sqlitePool   = poolLimits{maxOpen: 10, maxIdle: 10, idleTime: 5 * time.Minute, lifetime: 30 * time.Minute}
	postgresPool = poolLimits{maxOpen: 20, maxIdle: 10, idleTime: 5 * time.Minute, lifetime: 30 * time.Minute}
)

// sqlitePragmas run on every new connection of the pool. Notification
// batches write while idempotency reads run, hence WAL and a busy timeout.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// OpenSQLite opens (or creates) a SQLite database with the pragmas applied
// per connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	return open(sqlite.Open(sqliteDSN(path)), sqlitePool)
}

// OpenPostgres opens a Postgres database through the pgx driver.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return open(postgres.Open(dsn), postgresPool)
}

func open(d gorm.Dialector, p poolLimits) (*gorm.DB, error) {
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxIdleTime(p.idleTime)
	sqlDB.SetConnMaxLifetime(p.lifetime)
	return db, nil
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// AutoMigrate creates or updates every table the fan-out touches.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Image{},
		&domain.GlobalAnnouncement{},
		&domain.Notification{},
		&domain.Idempotency{},
	)
}
