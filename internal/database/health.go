package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const healthTimeout = 2 * time.Second

// ErrSchemaDirty means a migration failed halfway and needs manual repair.
var ErrSchemaDirty = errors.New("database schema is dirty")

// CheckHealth pings the pool.
func CheckHealth(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	return pool.Ping(ctx)
}

// CheckReady reports whether the pool answers and the schema is fully migrated.
func CheckReady(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var dirty bool
	query := `SELECT dirty FROM ` + MigrationsTable + ` LIMIT 1`
	if err := pool.QueryRow(ctx, query).Scan(&dirty); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return ErrSchemaDirty
	}
	return nil
}
