package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sdb builds Postgres statements with $n placeholders.
var sdb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int32  `yaml:"max_conns"`
	// Schema places the tables in a schema other than public.
	Schema string `yaml:"schema"`
}

// DSN renders the connection string for the pool.
func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.PathEscape(c.User), url.PathEscape(c.Password), c.Host, c.Port, c.Database)
	if c.Schema != "" {
		dsn += "&search_path=" + url.QueryEscape(c.Schema)
	}
	return dsn
}

// PostgresDB wraps a PostgreSQL connection pool holding the flight and
// indicator tables.
type PostgresDB struct {
	pool   *pgxpool.Pool
	schema string
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool, schema: cfg.Schema}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Ping checks the database is reachable.
func (d *PostgresDB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// CreateSchema creates the flight and indicator tables and the latest-row
// views. It is idempotent. Columns added since a table was first created
// are added in place, and the views are rebuilt so they carry them.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	if d.schema != "" {
		if _, err := d.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{d.schema}.Sanitize()); err != nil {
			return fmt.Errorf("create schema %s: %w", d.schema, err)
		}
	}

	cols := strings.Join(selectFlightColumns(), ", ")
	schema := `
	-- Append-only flight observations, one row per flight per upload cycle.
	CREATE TABLE IF NOT EXISTS flight (
		id                              BIGSERIAL PRIMARY KEY,
		latest_update                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		data_status                     JSONB,
		flight_id                       TEXT,
		callsign                        TEXT,
		live                            BOOLEAN,
		aircraft_model_code             TEXT,
		aircraft_model_text             TEXT,
		aircraft_manufacturer           TEXT,
		airline                         TEXT,
		origin_airport_name             TEXT,
		origin_airport_iata             TEXT,
		origin_airport_icao             TEXT,
		origin_airport_lat              DOUBLE PRECISION,
		origin_airport_long             DOUBLE PRECISION,
		origin_airport_country          TEXT,
		origin_airport_continent        TEXT,
		destination_airport_name        TEXT,
		destination_airport_iata        TEXT,
		destination_airport_icao        TEXT,
		destination_airport_lat         DOUBLE PRECISION,
		destination_airport_long        DOUBLE PRECISION,
		destination_airport_country     TEXT,
		destination_airport_continent   TEXT,
		scheduled_departure             TIMESTAMPTZ,
		scheduled_arrival               TIMESTAMPTZ,
		real_departure                  TIMESTAMPTZ,
		real_arrival                    TIMESTAMPTZ,
		estimated_departure             TIMESTAMPTZ,
		estimated_arrival               TIMESTAMPTZ,
		first_timestamp                 TIMESTAMPTZ,
		route_distance_km               DOUBLE PRECISION
	);

	ALTER TABLE flight ADD COLUMN IF NOT EXISTS first_timestamp TIMESTAMPTZ;
	ALTER TABLE flight ADD COLUMN IF NOT EXISTS route_distance_km DOUBLE PRECISION;

	CREATE INDEX IF NOT EXISTS idx_flight_latest ON flight(flight_id, latest_update DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_flight_latest_update ON flight(latest_update);

	DROP VIEW IF EXISTS live_flight;
	DROP VIEW IF EXISTS latest_flight;

	-- Exactly one row per flight_id: greatest latest_update, then greatest id.
	CREATE VIEW latest_flight AS
		SELECT DISTINCT ON (flight_id) ` + cols + `
		FROM flight
		WHERE flight_id IS NOT NULL
		ORDER BY flight_id, latest_update DESC, id DESC;

	-- A flight is live when its latest row says so.
	CREATE VIEW live_flight AS
		SELECT ` + cols + ` FROM latest_flight WHERE live = TRUE;

	-- Append-only indicator results; a cycle writes one row per indicator.
	CREATE TABLE IF NOT EXISTS indicator (
		id                      BIGSERIAL PRIMARY KEY,
		cycle_id                UUID NOT NULL,
		name                    TEXT NOT NULL,
		result                  JSONB NOT NULL,
		computation_timestamp   TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_indicator_latest ON indicator(name, computation_timestamp DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_indicator_cycle ON indicator(cycle_id);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Query runs a read-only query. pgx.Rows satisfies Rows.
func (d *PostgresDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// inTx runs fn inside a transaction, committing only when fn succeeds.
func (d *PostgresDB) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
