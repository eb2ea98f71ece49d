package ingest

import (
	"flight_radar/internal/flight"
	"flight_radar/internal/fr24"
	"flight_radar/internal/geo"
)

// toObservation maps a detail document onto an observation and validates
// its integrity fields. The second return is false when the document has
// no identification block at all.
func toObservation(d *fr24.Details) (flight.Observation, bool) {
	var o flight.Observation
	if d == nil || d.Identification == nil {
		return o, false
	}

	o.Callsign = nonEmpty(d.Identification.Callsign)
	o.Live = d.Status.Live

	if d.Aircraft != nil && d.Aircraft.Model != nil {
		o.AircraftModelCode = nonEmpty(d.Aircraft.Model.Code)
		o.AircraftModelText = nonEmpty(d.Aircraft.Model.Text)
		if o.AircraftModelText != nil {
			o.AircraftManufacturer = flight.ManufacturerFromModel(*o.AircraftModelText)
		}
	}
	if d.Airline != nil {
		o.Airline = nonEmpty(d.Airline.Name)
	}

	raw := flight.RawIntegrity{FlightID: d.Identification.ID}
	raw.OriginName, raw.OriginLongitude, raw.OriginLatitude = mapAirport(d.Airport.Origin, &o.Origin)
	raw.DestinationName, raw.DestinationLongitude, raw.DestinationLatitude = mapAirport(d.Airport.Destination, &o.Destination)
	o.ApplyIntegrity(raw)

	o.ScheduledDeparture = fr24.EpochTime(d.Time.Scheduled.Departure)
	o.ScheduledArrival = fr24.EpochTime(d.Time.Scheduled.Arrival)
	o.RealDeparture = fr24.EpochTime(d.Time.Real.Departure)
	o.RealArrival = fr24.EpochTime(d.Time.Real.Arrival)
	o.EstimatedDeparture = fr24.EpochTime(d.Time.Estimated.Departure)
	o.EstimatedArrival = fr24.EpochTime(d.Time.Estimated.Arrival)
	o.FirstTimestamp = fr24.EpochTime(d.FirstTimestamp)

	o.RouteDistanceKm = routeDistance(o.Origin, o.Destination)
	return o, true
}

// mapAirport copies the untyped attributes of an airport onto dst and hands
// back the raw integrity values for validation.
func mapAirport(src *fr24.Airport, dst *flight.Airport) (name, lon, lat any) {
	if src == nil {
		return nil, nil, nil
	}
	if src.Code != nil {
		dst.IATA = nonEmpty(src.Code.IATA)
		dst.ICAO = nonEmpty(src.Code.ICAO)
	}
	if src.Position != nil {
		lon, lat = src.Position.Longitude, src.Position.Latitude
		if src.Position.Country != nil {
			dst.Country = nonEmpty(src.Position.Country.Name)
		}
	}
	if src.Timezone != nil && src.Timezone.Name != nil {
		dst.Continent = flight.ContinentFromTimezone(*src.Timezone.Name)
	}
	return src.Name, lon, lat
}

func routeDistance(origin, dest flight.Airport) *float64 {
	if !origin.HasPosition() || !dest.HasPosition() {
		return nil
	}
	km := geo.Haversine(*origin.Latitude, *origin.Longitude, *dest.Latitude, *dest.Longitude)
	return &km
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
