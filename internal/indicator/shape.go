package indicator

import (
	"flight_radar/internal/storage"
)

// Empty is the payload of an indicator computed over no matching flights.
var Empty = map[string]any{}

// AirlineCount is the payload of the busiest-airline indicators.
type AirlineCount struct {
	Airline     string `json:"airline"`
	LiveFlights int64  `json:"live_flights"`
}

// LongestFlight is the payload of longest_ongoing_flight.
type LongestFlight struct {
	FlightID               string  `json:"flight_id"`
	Callsign               *string `json:"callsign"`
	Airline                *string `json:"airline"`
	OriginAirportName      *string `json:"origin_airport_name"`
	DestinationAirportName *string `json:"destination_airport_name"`
	DistanceKm             float64 `json:"distance_km"`
}

// ManufacturerCount is the payload of manufacturer_with_most_active_flights.
type ManufacturerCount struct {
	Manufacturer  string `json:"manufacturer"`
	ActiveFlights int64  `json:"active_flights"`
}

// ModelUsage is one entry of top_aircraft_models_per_airline.
type ModelUsage struct {
	Model      string `json:"model"`
	UsageCount int64  `json:"usage_count"`
}

// AirportDifference is the payload of airport_with_largest_flights_difference.
type AirportDifference struct {
	AirportIATA       string `json:"airport_iata"`
	AirportName       string `json:"airport_name"`
	DepartureCount    int64  `json:"departure_count"`
	ArrivalCount      int64  `json:"arrival_count"`
	FlightsDifference int64  `json:"flights_difference"`
}

func shapeAirlineWithMostLiveFlights(rows storage.Rows) (any, error) {
	if !rows.Next() {
		return Empty, rows.Err()
	}
	var r AirlineCount
	if err := rows.Scan(&r.Airline, &r.LiveFlights); err != nil {
		return nil, err
	}
	return r, rows.Err()
}

func shapeRegionalFlightsPerContinent(rows storage.Rows) (any, error) {
	out := map[string]AirlineCount{}
	for rows.Next() {
		var continent string
		var r AirlineCount
		if err := rows.Scan(&continent, &r.Airline, &r.LiveFlights); err != nil {
			return nil, err
		}
		out[continent] = r
	}
	return out, rows.Err()
}

func shapeLongestOngoingFlight(rows storage.Rows) (any, error) {
	if !rows.Next() {
		return Empty, rows.Err()
	}
	var r LongestFlight
	if err := rows.Scan(&r.FlightID, &r.Callsign, &r.Airline, &r.OriginAirportName, &r.DestinationAirportName, &r.DistanceKm); err != nil {
		return nil, err
	}
	return r, rows.Err()
}

func shapeAverageFlightLength(rows storage.Rows) (any, error) {
	out := map[string]float64{}
	for rows.Next() {
		var continent string
		var avg float64
		if err := rows.Scan(&continent, &avg); err != nil {
			return nil, err
		}
		out[continent] = avg
	}
	return out, rows.Err()
}

func shapeManufacturerWithMostActiveFlights(rows storage.Rows) (any, error) {
	if !rows.Next() {
		return Empty, rows.Err()
	}
	var r ManufacturerCount
	if err := rows.Scan(&r.Manufacturer, &r.ActiveFlights); err != nil {
		return nil, err
	}
	return r, rows.Err()
}

// Rows arrive ordered by airline then rank, so appending keeps rank order.
func shapeTopAircraftModels(rows storage.Rows) (any, error) {
	out := map[string][]ModelUsage{}
	for rows.Next() {
		var airline string
		var m ModelUsage
		if err := rows.Scan(&airline, &m.Model, &m.UsageCount); err != nil {
			return nil, err
		}
		out[airline] = append(out[airline], m)
	}
	return out, rows.Err()
}

func shapeAirportDifference(rows storage.Rows) (any, error) {
	if !rows.Next() {
		return Empty, rows.Err()
	}
	var r AirportDifference
	if err := rows.Scan(&r.AirportIATA, &r.AirportName, &r.DepartureCount, &r.ArrivalCount, &r.FlightsDifference); err != nil {
		return nil, err
	}
	return r, rows.Err()
}
