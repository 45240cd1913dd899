package postgres

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

const (
	connectAttempts = 10
	connectBackoff  = 3 * time.Second
)

// Open connects to Postgres and waits for it to become reachable. Services
// start alongside the database, so the first pings routinely fail.
func Open(url string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for attempt := 1; ; attempt++ {
		err = db.Ping()
		if err == nil {
			logger.Info("connected to Postgres")
			return db, nil
		}
		if attempt >= connectAttempts {
			db.Close()
			return nil, fmt.Errorf("database unreachable after %d attempts: %w", connectAttempts, err)
		}
		logger.Warn("database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		time.Sleep(connectBackoff)
	}
}

// Migrate applies the embedded migrations for one service's schema.
// service must match a directory under migrations/.
func Migrate(db *sql.DB, service string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations/"+service); err != nil {
		return fmt.Errorf("failed to apply %s migrations: %w", service, err)
	}
	return nil
}
