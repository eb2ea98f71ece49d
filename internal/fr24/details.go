package fr24

import (
	"encoding/json"
	"time"
)

// Details is the subset of the flight detail document the ingest path uses.
// Fields whose upstream type is unreliable are kept as any so validation
// can tell a missing value from a malformed one.
type Details struct {
	Identification *struct {
		ID       any     `json:"id"`
		Callsign *string `json:"callsign"`
	} `json:"identification"`
	Status struct {
		Live *bool `json:"live"`
	} `json:"status"`
	Aircraft *struct {
		Model *struct {
			Code *string `json:"code"`
			Text *string `json:"text"`
		} `json:"model"`
		Registration *string `json:"registration"`
	} `json:"aircraft"`
	Airline *struct {
		Name *string `json:"name"`
	} `json:"airline"`
	Airport struct {
		Origin      *Airport `json:"origin"`
		Destination *Airport `json:"destination"`
	} `json:"airport"`
	Time struct {
		Scheduled TimePair `json:"scheduled"`
		Real      TimePair `json:"real"`
		Estimated TimePair `json:"estimated"`
	} `json:"time"`
	FirstTimestamp json.Number `json:"firstTimestamp"`
}

// Airport is one end of a route.
type Airport struct {
	Name any `json:"name"`
	Code *struct {
		IATA *string `json:"iata"`
		ICAO *string `json:"icao"`
	} `json:"code"`
	Position *struct {
		Latitude  any `json:"latitude"`
		Longitude any `json:"longitude"`
		Country   *struct {
			Name *string `json:"name"`
		} `json:"country"`
	} `json:"position"`
	Timezone *struct {
		Name *string `json:"name"`
	} `json:"timezone"`
}

// TimePair holds departure and arrival epochs in seconds.
type TimePair struct {
	Departure json.Number `json:"departure"`
	Arrival   json.Number `json:"arrival"`
}

// EpochTime converts an upstream epoch to UTC. Zero, empty and malformed
// values are reported as nil.
func EpochTime(n json.Number) *time.Time {
	if n == "" {
		return nil
	}
	secs, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return nil
		}
		secs = int64(f)
	}
	if secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
