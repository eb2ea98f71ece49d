package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"flight_radar/internal/flight"
)

// flightInsertChunk bounds the rows per INSERT statement so a batch stays
// under the Postgres bind parameter limit.
const flightInsertChunk = 1000

var flightColumns = []string{
	"latest_update", "data_status", "flight_id", "callsign", "live",
	"aircraft_model_code", "aircraft_model_text", "aircraft_manufacturer", "airline",
	"origin_airport_name", "origin_airport_iata", "origin_airport_icao",
	"origin_airport_lat", "origin_airport_long", "origin_airport_country", "origin_airport_continent",
	"destination_airport_name", "destination_airport_iata", "destination_airport_icao",
	"destination_airport_lat", "destination_airport_long", "destination_airport_country", "destination_airport_continent",
	"scheduled_departure", "scheduled_arrival", "real_departure", "real_arrival",
	"estimated_departure", "estimated_arrival", "first_timestamp", "route_distance_km",
}

// InsertFlights appends observations to the flight table in one transaction.
// Either every row becomes visible or none does.
func (d *PostgresDB) InsertFlights(ctx context.Context, obs []flight.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, &InsertError{Table: "flight", Err: ErrNoData}
	}

	now := time.Now().UTC()
	err := d.inTx(ctx, func(tx pgx.Tx) error {
		for start := 0; start < len(obs); start += flightInsertChunk {
			end := min(start+flightInsertChunk, len(obs))

			ins := sdb.Insert("flight").Columns(flightColumns...)
			for _, o := range obs[start:end] {
				values, err := flightValues(o, now)
				if err != nil {
					return err
				}
				ins = ins.Values(values...)
			}

			query, args, err := ins.ToSql()
			if err != nil {
				return fmt.Errorf("build insert: %w", err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &InsertError{Table: "flight", Rows: len(obs), Err: err}
	}
	return len(obs), nil
}

func flightValues(o flight.Observation, now time.Time) ([]any, error) {
	updated := o.LatestUpdate
	if updated.IsZero() {
		updated = now
	}

	var status []byte
	if o.DataStatus != nil {
		var err error
		if status, err = json.Marshal(o.DataStatus); err != nil {
			return nil, fmt.Errorf("marshal data status: %w", err)
		}
	}

	var flightID *string
	if o.FlightID != "" {
		flightID = &o.FlightID
	}

	return []any{
		updated, status, flightID, o.Callsign, o.Live,
		o.AircraftModelCode, o.AircraftModelText, o.AircraftManufacturer, o.Airline,
		o.Origin.Name, o.Origin.IATA, o.Origin.ICAO,
		o.Origin.Latitude, o.Origin.Longitude, o.Origin.Country, o.Origin.Continent,
		o.Destination.Name, o.Destination.IATA, o.Destination.ICAO,
		o.Destination.Latitude, o.Destination.Longitude, o.Destination.Country, o.Destination.Continent,
		o.ScheduledDeparture, o.ScheduledArrival, o.RealDeparture, o.RealArrival,
		o.EstimatedDeparture, o.EstimatedArrival, o.FirstTimestamp, o.RouteDistanceKm,
	}, nil
}

// HasFlights reports whether the flight table holds at least one row.
func (d *PostgresDB) HasFlights(ctx context.Context) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flight)`).Scan(&exists)
	return exists, err
}

// FlightStats summarises the flight table.
type FlightStats struct {
	Rows         int64
	Flights      int64
	LiveFlights  int64
	LatestUpdate *time.Time
}

// GetFlightStats counts rows, distinct flights and live flights.
func (d *PostgresDB) GetFlightStats(ctx context.Context) (*FlightStats, error) {
	var s FlightStats
	err := d.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM flight),
			(SELECT COUNT(*) FROM latest_flight),
			(SELECT COUNT(*) FROM live_flight),
			(SELECT MAX(latest_update) FROM flight)
	`).Scan(&s.Rows, &s.Flights, &s.LiveFlights, &s.LatestUpdate)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListLiveFlights returns the latest row of each live flight, ordered by
// flight id.
func (d *PostgresDB) ListLiveFlights(ctx context.Context, limit, offset int) ([]flight.Observation, error) {
	q := sdb.Select(selectFlightColumns()...).
		From("live_flight").
		OrderBy("flight_id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	return d.queryFlights(ctx, q)
}

// GetLatestFlight returns the latest row for a flight id, or nil.
func (d *PostgresDB) GetLatestFlight(ctx context.Context, flightID string) (*flight.Observation, error) {
	obs, err := d.queryFlights(ctx, sdb.Select(selectFlightColumns()...).
		From("latest_flight").
		Where(sq.Eq{"flight_id": flightID}))
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	return &obs[0], nil
}

// ListArchivableFlights returns rows older than cutoff that are not the
// latest row of their flight, oldest first.
func (d *PostgresDB) ListArchivableFlights(ctx context.Context, cutoff time.Time, limit int) ([]flight.Observation, error) {
	q := sdb.Select(selectFlightColumns()...).
		From("flight").
		Where(sq.Lt{"latest_update": cutoff}).
		Where("id NOT IN (SELECT id FROM latest_flight)").
		OrderBy("id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return d.queryFlights(ctx, q)
}

// DeleteFlights removes flight rows by primary key, refusing to touch any
// row that is still the latest for its flight.
func (d *PostgresDB) DeleteFlights(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sdb.Delete("flight").
		Where(sq.Eq{"id": ids}).
		Where("id NOT IN (SELECT id FROM latest_flight)").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := d.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete flights: %w", err)
	}
	return tag.RowsAffected(), nil
}

func selectFlightColumns() []string {
	return append([]string{"id"}, flightColumns...)
}

func (d *PostgresDB) queryFlights(ctx context.Context, q sq.SelectBuilder) ([]flight.Observation, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flight.Observation
	for rows.Next() {
		var o flight.Observation
		var flightID *string
		if err := rows.Scan(
			&o.ID, &o.LatestUpdate, &o.DataStatus, &flightID, &o.Callsign, &o.Live,
			&o.AircraftModelCode, &o.AircraftModelText, &o.AircraftManufacturer, &o.Airline,
			&o.Origin.Name, &o.Origin.IATA, &o.Origin.ICAO,
			&o.Origin.Latitude, &o.Origin.Longitude, &o.Origin.Country, &o.Origin.Continent,
			&o.Destination.Name, &o.Destination.IATA, &o.Destination.ICAO,
			&o.Destination.Latitude, &o.Destination.Longitude, &o.Destination.Country, &o.Destination.Continent,
			&o.ScheduledDeparture, &o.ScheduledArrival, &o.RealDeparture, &o.RealArrival,
			&o.EstimatedDeparture, &o.EstimatedArrival, &o.FirstTimestamp, &o.RouteDistanceKm,
		); err != nil {
			return nil, err
		}
		if flightID != nil {
			o.FlightID = *flightID
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
