package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"flight_radar/internal/flight"
)

// ClickHouseConfig holds ClickHouse connection settings. The archive is only
// used when Enabled is set.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ClickHouseDB wraps a ClickHouse connection holding archived flight rows.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the flight_archive table.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	err := d.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS flight_archive (
		id                          UInt64,
		latest_update               DateTime64(3),
		flight_id                   String,
		callsign                    Nullable(String),
		live                        Nullable(UInt8),
		aircraft_model_text         Nullable(String),
		aircraft_manufacturer       LowCardinality(Nullable(String)),
		airline                     LowCardinality(Nullable(String)),
		origin_airport_iata         LowCardinality(Nullable(String)),
		origin_airport_continent    LowCardinality(Nullable(String)),
		destination_airport_iata    LowCardinality(Nullable(String)),
		destination_airport_continent LowCardinality(Nullable(String)),
		route_distance_km           Nullable(Float64),
		data_status                 String,
		archived_at                 DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(latest_update)
	ORDER BY (flight_id, latest_update, id)`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ArchiveFlights copies flight rows into flight_archive in one batch.
func (d *ClickHouseDB) ArchiveFlights(ctx context.Context, obs []flight.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO flight_archive (id, latest_update, flight_id, callsign, live, aircraft_model_text,
			aircraft_manufacturer, airline, origin_airport_iata, origin_airport_continent,
			destination_airport_iata, destination_airport_continent, route_distance_km, data_status)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		status, err := json.Marshal(o.DataStatus)
		if err != nil {
			return fmt.Errorf("marshal data status: %w", err)
		}

		var live *uint8
		if o.Live != nil {
			v := uint8(0)
			if *o.Live {
				v = 1
			}
			live = &v
		}

		err = batch.Append(uint64(o.ID), o.LatestUpdate, o.FlightID, o.Callsign, live, o.AircraftModelText,
			o.AircraftManufacturer, o.Airline, o.Origin.IATA, o.Origin.Continent,
			o.Destination.IATA, o.Destination.Continent, o.RouteDistanceKm, string(status))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountArchived returns the number of archived rows.
func (d *ClickHouseDB) CountArchived(ctx context.Context) (uint64, error) {
	var count uint64
	if err := d.conn.QueryRow(ctx, `SELECT count() FROM flight_archive`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return count, nil
}
