package flight

import (
	"encoding/json"
	"strings"

	"flight_radar/internal/geo"
)

// RawIntegrity carries the integrity fields exactly as decoded from the
// upstream document, before their types are checked.
type RawIntegrity struct {
	FlightID             any
	OriginName           any
	OriginLongitude      any
	OriginLatitude       any
	DestinationName      any
	DestinationLongitude any
	DestinationLatitude  any
}

// ApplyIntegrity validates raw and stores the valid values on o. Invalid
// values are dropped and missing ones stay nil; either way the status of
// every integrity field is recorded in o.DataStatus. It never fails.
func (o *Observation) ApplyIntegrity(raw RawIntegrity) DataStatus {
	status := make(DataStatus, len(IntegrityFields))

	var id *string
	id, status[FieldFlightID] = checkString(raw.FlightID)
	o.FlightID = ""
	if id != nil {
		o.FlightID = *id
	}

	o.Origin.Name, status[FieldOriginAirportName] = checkString(raw.OriginName)
	o.Origin.Longitude, status[FieldOriginAirportLong] = checkCoordinate(raw.OriginLongitude, geo.ValidLongitude)
	o.Origin.Latitude, status[FieldOriginAirportLat] = checkCoordinate(raw.OriginLatitude, geo.ValidLatitude)
	o.Destination.Name, status[FieldDestinationAirportName] = checkString(raw.DestinationName)
	o.Destination.Longitude, status[FieldDestinationAirportLong] = checkCoordinate(raw.DestinationLongitude, geo.ValidLongitude)
	o.Destination.Latitude, status[FieldDestinationAirportLat] = checkCoordinate(raw.DestinationLatitude, geo.ValidLatitude)

	o.DataStatus = status
	return status
}

// Invalid lists the fields whose status is StatusInvalid.
func (s DataStatus) Invalid() []string {
	var out []string
	for _, f := range IntegrityFields {
		if s[f] == StatusInvalid {
			out = append(out, f)
		}
	}
	return out
}

func checkString(v any) (*string, FieldStatus) {
	switch x := v.(type) {
	case nil:
		return nil, StatusMissing
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, StatusMissing
		}
		return &x, StatusValid
	default:
		return nil, StatusInvalid
	}
}

// checkCoordinate accepts JSON numbers only; numeric strings are invalid.
func checkCoordinate(v any, valid func(float64) bool) (*float64, FieldStatus) {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil, StatusMissing
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, StatusInvalid
		}
		f = parsed
	default:
		return nil, StatusInvalid
	}
	if !valid(f) {
		return nil, StatusInvalid
	}
	return &f, StatusValid
}
