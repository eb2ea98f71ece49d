package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight_radar/internal/flight"
	"flight_radar/internal/fr24"
	"flight_radar/internal/logging"
	"flight_radar/internal/storage"
)

type fakeSource struct {
	mu      sync.Mutex
	feed    []fr24.FeedFlight
	listErr error
	details map[string]string
	errs    map[string]error
	calls   int
}

func (s *fakeSource) ListFlights(ctx context.Context) ([]fr24.FeedFlight, error) {
	return s.feed, s.listErr
}

func (s *fakeSource) FlightDetails(ctx context.Context, id string) (*fr24.Details, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := s.errs[id]; err != nil {
		return nil, err
	}
	var d fr24.Details
	dec := json.NewDecoder(strings.NewReader(s.details[id]))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

type fakeSink struct {
	got []flight.Observation
	err error
}

func (s *fakeSink) InsertFlights(ctx context.Context, obs []flight.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, &storage.InsertError{Table: "flight", Err: storage.ErrNoData}
	}
	if s.err != nil {
		return 0, &storage.InsertError{Table: "flight", Rows: len(obs), Err: s.err}
	}
	s.got = append(s.got, obs...)
	return len(obs), nil
}

const cdgJFK = `{
	"identification": {"id": "2f3a1b", "callsign": "AFR22"},
	"status": {"live": true},
	"aircraft": {"model": {"code": "A320", "text": "Airbus A320-214"}},
	"airline": {"name": "Air France"},
	"airport": {
		"origin": {
			"name": "Paris Charles de Gaulle Airport",
			"code": {"iata": "CDG", "icao": "LFPG"},
			"position": {"latitude": 49.0097, "longitude": 2.5479, "country": {"name": "France"}},
			"timezone": {"name": "Europe/Paris"}
		},
		"destination": {
			"name": "John F. Kennedy International Airport",
			"code": {"iata": "JFK", "icao": "KJFK"},
			"position": {"latitude": 40.6413, "longitude": -73.7781, "country": {"name": "United States"}},
			"timezone": {"name": "America/New_York"}
		}
	},
	"time": {"scheduled": {"departure": 1714564800, "arrival": 1714590000}},
	"firstTimestamp": 1714564000
}`

const badCoordinates = `{
	"identification": {"id": "3a0001", "callsign": null},
	"status": {"live": false},
	"airport": {
		"origin": {"name": "", "position": {"latitude": "49.0", "longitude": 2.5}},
		"destination": {"name": 42, "position": {"latitude": 95.5, "longitude": null}}
	}
}`

func newTestUploader(src Source, sink Sink) *Uploader {
	return NewUploader(src, sink, Options{Workers: 3}, logging.Discard())
}

func TestUploadMapsAndInserts(t *testing.T) {
	src := &fakeSource{
		feed:    []fr24.FeedFlight{{ID: "2f3a1b"}, {ID: "3a0001"}},
		details: map[string]string{"2f3a1b": cdgJFK, "3a0001": badCoordinates},
	}
	sink := &fakeSink{}

	res, err := newTestUploader(src, sink).Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Listed)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Invalid)
	require.Len(t, sink.got, 2)

	good := sink.got[0]
	assert.Equal(t, "2f3a1b", good.FlightID)
	assert.Equal(t, "AFR22", *good.Callsign)
	assert.True(t, good.IsLive())
	assert.Equal(t, "Airbus", *good.AircraftManufacturer)
	assert.Equal(t, "Europe", *good.Origin.Continent)
	assert.Equal(t, "America", *good.Destination.Continent)
	assert.Equal(t, "CDG", *good.Origin.IATA)
	assert.Equal(t, int64(1714564800), good.ScheduledDeparture.Unix())
	assert.Nil(t, good.RealDeparture)
	require.NotNil(t, good.RouteDistanceKm)
	assert.InDelta(t, 5837, *good.RouteDistanceKm, 10)
	for _, f := range flight.IntegrityFields {
		assert.Equal(t, flight.StatusValid, good.DataStatus[f], f)
	}

	bad := sink.got[1]
	assert.Equal(t, "3a0001", bad.FlightID)
	assert.Nil(t, bad.Callsign)
	assert.Nil(t, bad.Origin.Name)
	assert.Nil(t, bad.Origin.Latitude)
	assert.Equal(t, 2.5, *bad.Origin.Longitude)
	assert.Nil(t, bad.RouteDistanceKm)
	assert.Equal(t, flight.DataStatus{
		flight.FieldFlightID:               flight.StatusValid,
		flight.FieldOriginAirportName:      flight.StatusMissing,
		flight.FieldOriginAirportLong:      flight.StatusValid,
		flight.FieldOriginAirportLat:       flight.StatusInvalid,
		flight.FieldDestinationAirportName: flight.StatusInvalid,
		flight.FieldDestinationAirportLong: flight.StatusMissing,
		flight.FieldDestinationAirportLat:  flight.StatusInvalid,
	}, bad.DataStatus)
}

func TestUploadSkipsUnavailable(t *testing.T) {
	src := &fakeSource{
		feed: []fr24.FeedFlight{{ID: "2f3a1b"}, {ID: "paid"}, {ID: "limited"}, {ID: "broken"}},
		details: map[string]string{
			"2f3a1b": cdgJFK,
			"broken": `{"status": {}}`,
		},
		errs: map[string]error{
			"paid":    &fr24.StatusError{StatusCode: 402},
			"limited": &fr24.StatusError{StatusCode: 429},
		},
	}
	sink := &fakeSink{}

	res, err := newTestUploader(src, sink).Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, src.calls, "no retries within a cycle")
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
	assert.Len(t, sink.got, 1)
}

func TestUploadCountsFailures(t *testing.T) {
	src := &fakeSource{
		feed:    []fr24.FeedFlight{{ID: "2f3a1b"}, {ID: "gone"}},
		details: map[string]string{"2f3a1b": cdgJFK},
		errs:    map[string]error{"gone": &fr24.StatusError{StatusCode: 404}},
	}
	res, err := newTestUploader(src, &fakeSink{}).Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Skipped)
}

func TestUploadCollapsesDuplicates(t *testing.T) {
	src := &fakeSource{
		feed:    []fr24.FeedFlight{{ID: "a"}, {ID: "b"}, {ID: "anon1"}, {ID: "anon2"}},
		details: map[string]string{"a": cdgJFK, "b": cdgJFK, "anon1": `{"identification": {}}`, "anon2": `{"identification": {"id": 7}}`},
	}
	sink := &fakeSink{}

	res, err := newTestUploader(src, sink).Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, sink.got, 3)
	assert.Equal(t, "2f3a1b", sink.got[0].FlightID)
	assert.Empty(t, sink.got[1].FlightID)
	assert.Equal(t, flight.StatusMissing, sink.got[1].DataStatus[flight.FieldFlightID])
	assert.Equal(t, flight.StatusInvalid, sink.got[2].DataStatus[flight.FieldFlightID])
}

func TestUploadEmptyBatch(t *testing.T) {
	src := &fakeSource{feed: []fr24.FeedFlight{{ID: "x"}}, errs: map[string]error{"x": fr24.ErrUnavailable}}

	_, err := newTestUploader(src, &fakeSink{}).Upload(context.Background())
	var ie *storage.InsertError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, storage.ErrNoData)
}

func TestUploadListFailure(t *testing.T) {
	src := &fakeSource{listErr: errors.New("connection refused")}
	_, err := newTestUploader(src, &fakeSink{}).Upload(context.Background())
	assert.ErrorContains(t, err, "list flights")
}

func TestUploadInsertFailure(t *testing.T) {
	src := &fakeSource{
		feed:    []fr24.FeedFlight{{ID: "2f3a1b"}},
		details: map[string]string{"2f3a1b": cdgJFK},
	}
	sink := &fakeSink{err: errors.New("deadlock detected")}

	res, err := newTestUploader(src, sink).Upload(context.Background())
	var ie *storage.InsertError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 0, res.Inserted)
	assert.Empty(t, sink.got)
}

func TestUploadCancelled(t *testing.T) {
	src := &fakeSource{
		feed:    []fr24.FeedFlight{{ID: "2f3a1b"}},
		details: map[string]string{"2f3a1b": cdgJFK},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestUploader(src, &fakeSink{}).Upload(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
