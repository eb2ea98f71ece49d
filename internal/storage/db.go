// Package storage provides the PostgreSQL flight and indicator store, the
// ClickHouse archive, and the SQLite job store.
package storage

import (
	"context"
	"fmt"
)

// DB wraps the PostgreSQL store and, when enabled, the ClickHouse archive.
type DB struct {
	PG *PostgresDB   // PostgreSQL for flights and indicators.
	CH *ClickHouseDB // ClickHouse archive, nil when disabled.
}

// Open connects to PostgreSQL and, if ch.Enabled, to ClickHouse.
func Open(ctx context.Context, pg PostgresConfig, ch ClickHouseConfig) (*DB, error) {
	pgDB, err := OpenPostgres(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	db := &DB{PG: pgDB}
	if !ch.Enabled {
		return db, nil
	}

	chDB, err := OpenClickHouse(ctx, ch)
	if err != nil {
		pgDB.Close()
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	db.CH = chDB
	return db, nil
}

// Close closes both database connections.
func (d *DB) Close() error {
	var err error
	if d.CH != nil {
		if cerr := d.CH.Close(); cerr != nil {
			err = fmt.Errorf("clickhouse: %w", cerr)
		}
	}
	if d.PG != nil {
		d.PG.Close()
	}
	return err
}

// CreateSchemas creates the schemas in every open database.
func (d *DB) CreateSchemas(ctx context.Context) error {
	if err := d.PG.CreateSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	if d.CH != nil {
		if err := d.CH.CreateSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}
