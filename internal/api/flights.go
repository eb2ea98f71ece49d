package api

import (
	"time"

	"flight_radar/internal/flight"
)

// AirportResponse is one end of a route.
type AirportResponse struct {
	Name      *string  `json:"name"`
	IATA      *string  `json:"iata"`
	ICAO      *string  `json:"icao"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"long"`
	Country   *string  `json:"country"`
	Continent *string  `json:"continent"`
}

// FlightResponse is the JSON form of a latest flight row.
type FlightResponse struct {
	FlightID             string            `json:"flight_id"`
	Callsign             *string           `json:"callsign"`
	Live                 *bool             `json:"live"`
	LatestUpdate         time.Time         `json:"latest_update"`
	AircraftModelCode    *string           `json:"aircraft_model_code"`
	AircraftModelText    *string           `json:"aircraft_model_text"`
	AircraftManufacturer *string           `json:"aircraft_manufacturer"`
	Airline              *string           `json:"airline"`
	Origin               AirportResponse   `json:"origin"`
	Destination          AirportResponse   `json:"destination"`
	ScheduledDeparture   *time.Time        `json:"scheduled_departure"`
	ScheduledArrival     *time.Time        `json:"scheduled_arrival"`
	RealDeparture        *time.Time        `json:"real_departure"`
	RealArrival          *time.Time        `json:"real_arrival"`
	EstimatedDeparture   *time.Time        `json:"estimated_departure"`
	EstimatedArrival     *time.Time        `json:"estimated_arrival"`
	FirstTimestamp       *time.Time        `json:"first_timestamp"`
	RouteDistanceKm      *float64          `json:"route_distance_km"`
	DataStatus           flight.DataStatus `json:"data_status"`
}

func toAirportResponse(a flight.Airport) AirportResponse {
	return AirportResponse{
		Name:      a.Name,
		IATA:      a.IATA,
		ICAO:      a.ICAO,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
		Country:   a.Country,
		Continent: a.Continent,
	}
}

func toFlightResponse(o flight.Observation) FlightResponse {
	return FlightResponse{
		FlightID:             o.FlightID,
		Callsign:             o.Callsign,
		Live:                 o.Live,
		LatestUpdate:         o.LatestUpdate.UTC(),
		AircraftModelCode:    o.AircraftModelCode,
		AircraftModelText:    o.AircraftModelText,
		AircraftManufacturer: o.AircraftManufacturer,
		Airline:              o.Airline,
		Origin:               toAirportResponse(o.Origin),
		Destination:          toAirportResponse(o.Destination),
		ScheduledDeparture:   o.ScheduledDeparture,
		ScheduledArrival:     o.ScheduledArrival,
		RealDeparture:        o.RealDeparture,
		RealArrival:          o.RealArrival,
		EstimatedDeparture:   o.EstimatedDeparture,
		EstimatedArrival:     o.EstimatedArrival,
		FirstTimestamp:       o.FirstTimestamp,
		RouteDistanceKm:      o.RouteDistanceKm,
		DataStatus:           o.DataStatus,
	}
}
