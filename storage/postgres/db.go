// Package postgres implements the identity stores on PostgreSQL through
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pilacorp/go-identity-sdk/storage"
)

const backend = "postgres"

//go:embed schema.sql
var schema string

// Config holds the connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database named by cfg.DSN and pings it.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, storage.Unavailable("postgres ping", err)
	}

	return db, nil
}

// Migrate creates the tables used by the stores. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return mapErr("migrate", err)
	}

	return nil
}

// pq error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	uniqueViolation = "23505"

	classConnection        = "08"
	classInsufficientRes   = "53"
	classOperatorIntervene = "57"
)

// mapErr translates driver errors into storage sentinels. Constraint and query
// errors are returned wrapped as they are; connection level failures count as
// unavailability.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == uniqueViolation:
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		case isClass(pqErr, classConnection, classInsufficientRes, classOperatorIntervene):
			return storage.Unavailable(op, err)
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return storage.Unavailable(op, err)
}

func isClass(err *pq.Error, classes ...string) bool {
	for _, c := range classes {
		if string(err.Code.Class()) == c {
			return true
		}
	}

	return false
}
