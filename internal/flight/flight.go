// Package flight defines the flight observation model and the latest-row
// resolution rules shared by ingestion and indicators.
package flight

import (
	"sort"
	"strings"
	"time"
)

// FieldStatus records how a validated field looked when it was ingested.
type FieldStatus int

const (
	StatusMissing FieldStatus = -1
	StatusInvalid FieldStatus = 0
	StatusValid   FieldStatus = 1
)

// Integrity field names, in the order they are checked.
const (
	FieldFlightID               = "flight_id"
	FieldOriginAirportName      = "origin_airport_name"
	FieldOriginAirportLong      = "origin_airport_long"
	FieldOriginAirportLat       = "origin_airport_lat"
	FieldDestinationAirportName = "destination_airport_name"
	FieldDestinationAirportLong = "destination_airport_long"
	FieldDestinationAirportLat  = "destination_airport_lat"
)

// IntegrityFields lists the fields whose status lands in data_status.
var IntegrityFields = []string{
	FieldFlightID,
	FieldOriginAirportName,
	FieldOriginAirportLong,
	FieldOriginAirportLat,
	FieldDestinationAirportName,
	FieldDestinationAirportLong,
	FieldDestinationAirportLat,
}

// DataStatus maps an integrity field name to its status.
type DataStatus map[string]FieldStatus

// Airport is one end of a flight.
type Airport struct {
	Name      *string
	IATA      *string
	ICAO      *string
	Latitude  *float64
	Longitude *float64
	Country   *string
	Continent *string
}

// HasPosition reports whether both coordinates are present.
func (a Airport) HasPosition() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// Observation is one row of the flight table: a flight as seen during one
// upload cycle.
type Observation struct {
	ID           int64
	LatestUpdate time.Time
	DataStatus   DataStatus

	FlightID             string
	Callsign             *string
	Live                 *bool
	AircraftModelCode    *string
	AircraftModelText    *string
	AircraftManufacturer *string
	Airline              *string

	Origin      Airport
	Destination Airport

	ScheduledDeparture *time.Time
	ScheduledArrival   *time.Time
	RealDeparture      *time.Time
	RealArrival        *time.Time
	EstimatedDeparture *time.Time
	EstimatedArrival   *time.Time
	FirstTimestamp     *time.Time

	RouteDistanceKm *float64
}

// IsLive reports whether the observation marks the flight as in progress.
func (o Observation) IsLive() bool {
	return o.Live != nil && *o.Live
}

// Latest keeps one observation per flight id: the one with the greatest
// LatestUpdate, or the later one in input order when timestamps tie.
// Observations without a flight id are dropped. Output is sorted by flight id.
func Latest(obs []Observation) []Observation {
	winners := make(map[string]int, len(obs))
	for i, o := range obs {
		if o.FlightID == "" {
			continue
		}
		j, seen := winners[o.FlightID]
		if !seen || !o.LatestUpdate.Before(obs[j].LatestUpdate) {
			winners[o.FlightID] = i
		}
	}

	out := make([]Observation, 0, len(winners))
	for _, i := range winners {
		out = append(out, obs[i])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FlightID < out[b].FlightID })
	return out
}

// ContinentFromTimezone derives a continent from an IANA zone name,
// "Europe/Paris" giving "Europe". Empty input yields nil.
func ContinentFromTimezone(zone string) *string {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil
	}
	continent, _, _ := strings.Cut(zone, "/")
	return &continent
}

// ManufacturerFromModel takes the first word of an aircraft model text,
// "Airbus A320-214" giving "Airbus". Empty input yields nil.
func ManufacturerFromModel(model string) *string {
	fields := strings.Fields(model)
	if len(fields) == 0 {
		return nil
	}
	return &fields[0]
}
