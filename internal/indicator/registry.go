// Package indicator computes the seven flight indicators over the latest
// live snapshot, stores each cycle atomically, and serves the latest results.
package indicator

import (
	"fmt"
	"strings"

	"flight_radar/internal/storage"
)

// Indicator names, stored in the indicator table's name column.
const (
	AirlineWithMostLiveFlights                 = "airline_with_most_live_flights"
	AirlineWithMostRegionalFlightsPerContinent = "airline_with_most_regional_flights_per_continent"
	LongestOngoingFlight                       = "longest_ongoing_flight"
	AverageFlightLengthPerContinent            = "average_flight_length_per_continent"
	ManufacturerWithMostActiveFlights          = "manufacturer_with_most_active_flights"
	TopAircraftModelsPerAirline                = "top_aircraft_models_per_airline"
	AirportWithLargestFlightsDifference        = "airport_with_largest_flights_difference"
)

// DefaultTopModels is the number of models kept per airline.
const DefaultTopModels = 3

// Options parameterises the queries of one cycle.
type Options struct {
	TopModels int
}

func (o Options) withDefaults() Options {
	if o.TopModels < 1 {
		o.TopModels = DefaultTopModels
	}
	return o
}

// Definition describes one indicator: how it is addressed, the query that
// computes it, and how the result rows become a JSON payload.
type Definition struct {
	Key   string // public key, indicator_1 to indicator_7
	Name  string
	Title string
	Query string

	args  func(Options) []any
	shape func(storage.Rows) (any, error)
}

// Args returns the bind arguments of the query for opts.
func (d Definition) Args(opts Options) []any {
	if d.args == nil {
		return nil
	}
	return d.args(opts.withDefaults())
}

// Shape turns query rows into the indicator payload.
func (d Definition) Shape(rows storage.Rows) (any, error) {
	return d.shape(rows)
}

var definitions = []Definition{
	{
		Key:   "indicator_1",
		Name:  AirlineWithMostLiveFlights,
		Title: "Airline with the most live flights",
		shape: shapeAirlineWithMostLiveFlights,
	},
	{
		Key:   "indicator_2",
		Name:  AirlineWithMostRegionalFlightsPerContinent,
		Title: "Airline with the most regional live flights, per continent",
		shape: shapeRegionalFlightsPerContinent,
	},
	{
		Key:   "indicator_3",
		Name:  LongestOngoingFlight,
		Title: "Longest ongoing flight",
		shape: shapeLongestOngoingFlight,
	},
	{
		Key:   "indicator_4",
		Name:  AverageFlightLengthPerContinent,
		Title: "Average flight length per continent",
		shape: shapeAverageFlightLength,
	},
	{
		Key:   "indicator_5",
		Name:  ManufacturerWithMostActiveFlights,
		Title: "Aircraft manufacturer with the most active flights",
		shape: shapeManufacturerWithMostActiveFlights,
	},
	{
		Key:   "indicator_6",
		Name:  TopAircraftModelsPerAirline,
		Title: "Top aircraft models per airline",
		args:  func(o Options) []any { return []any{o.TopModels} },
		shape: shapeTopAircraftModels,
	},
	{
		Key:   "indicator_7",
		Name:  AirportWithLargestFlightsDifference,
		Title: "Airport with the largest departures minus arrivals",
		shape: shapeAirportDifference,
	},
}

func init() {
	for i := range definitions {
		q, ok := queries[definitions[i].Name]
		if !ok {
			panic(fmt.Sprintf("indicator %s has no query", definitions[i].Name))
		}
		definitions[i].Query = q
	}
}

// Definitions returns every indicator in computation order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup resolves a public key ("indicator_3") or an internal name
// ("longest_ongoing_flight"), case-insensitively.
func Lookup(keyOrName string) (Definition, bool) {
	k := strings.ToLower(strings.TrimSpace(keyOrName))
	for _, d := range definitions {
		if d.Key == k || d.Name == k {
			return d, true
		}
	}
	return Definition{}, false
}
