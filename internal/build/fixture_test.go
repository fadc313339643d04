package build

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/models"
	"github.com/transitdocs/schedule-builder/internal/municipality"
	"github.com/transitdocs/schedule-builder/internal/source"
)

var errBoom = errors.New("boom")

// fakeSource serves canned rows. failOn names a method that should fail.
type fakeSource struct {
	routes       []source.Route
	trips        map[string][]source.Trip
	dates        map[string][]string
	stopTimes    map[string][]source.StopTime
	stops        []source.Stop
	scheduleRows []source.StopScheduleRow
	shapePoints  []source.ShapePoint

	failOn    string
	dateCalls map[string]int
}

func (f *fakeSource) fail(method string) error {
	if f.failOn == method {
		return errBoom
	}
	return nil
}

func (f *fakeSource) Routes(ctx context.Context) ([]source.Route, error) {
	return f.routes, f.fail("Routes")
}

func (f *fakeSource) TripsForRoute(ctx context.Context, routeID string) ([]source.Trip, error) {
	return f.trips[routeID], f.fail("TripsForRoute")
}

func (f *fakeSource) AddedServiceDates(ctx context.Context, serviceID string) ([]string, error) {
	if f.dateCalls == nil {
		f.dateCalls = make(map[string]int)
	}
	f.dateCalls[serviceID]++
	return f.dates[serviceID], f.fail("AddedServiceDates")
}

func (f *fakeSource) StopTimesForTrip(ctx context.Context, tripID string) ([]source.StopTime, error) {
	return f.stopTimes[tripID], f.fail("StopTimesForTrip")
}

func (f *fakeSource) Stops(ctx context.Context) ([]source.Stop, error) {
	return f.stops, f.fail("Stops")
}

func (f *fakeSource) StopScheduleRows(ctx context.Context) ([]source.StopScheduleRow, error) {
	return f.scheduleRows, f.fail("StopScheduleRows")
}

func (f *fakeSource) ShapePoints(ctx context.Context) ([]source.ShapePoint, error) {
	return f.shapePoints, f.fail("ShapePoints")
}

// fakeAreas returns a fixed table, or err
type fakeAreas struct {
	items []models.Municipality
	err   error
	calls int
}

func (f *fakeAreas) Fetch(ctx context.Context) (*municipality.Table, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return municipality.NewTable(f.items), nil
}

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	store := docstore.New(newBackend(t))
	t.Cleanup(func() { store.Close() })
	return store
}

func newBackend(t *testing.T) docstore.Backend {
	t.Helper()
	log, _ := test.NewNullLogger()
	backend, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), log)
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(context.Background()))
	return backend
}

// countingBackend records document reads per collection and key
type countingBackend struct {
	docstore.Backend
	gets map[docstore.Collection]map[string]int
}

func newCountingStore(t *testing.T) (*docstore.Store, *countingBackend) {
	t.Helper()
	backend := &countingBackend{Backend: newBackend(t)}
	backend.reset()
	store := docstore.New(backend)
	t.Cleanup(func() { store.Close() })
	return store, backend
}

func (c *countingBackend) Get(ctx context.Context, coll docstore.Collection, key string) ([]byte, error) {
	if c.gets[coll] == nil {
		c.gets[coll] = make(map[string]int)
	}
	c.gets[coll][key]++
	return c.Backend.Get(ctx, coll, key)
}

func (c *countingBackend) reset() {
	c.gets = make(map[docstore.Collection]map[string]int)
}

func newLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func stopTime(stopID, seq, arrival, departure string) source.StopTime {
	return source.StopTime{
		StopID:        stopID,
		StopSequence:  seq,
		ArrivalTime:   arrival,
		DepartureTime: departure,
		StopName:      "Stop " + stopID,
		StopLat:       "38.7",
		StopLon:       "-9.1",
	}
}

// line100 is a line with two variants, one per direction, serving stops in
// areas 12 and 13.
func line100() *fakeSource {
	return &fakeSource{
		routes: []source.Route{
			{RouteID: "100_0", ShortName: "100", LongName: "Lisboa - Loures", Type: "3"},
			{RouteID: "100_1", ShortName: "100", LongName: "Loures - Lisboa", Color: "00FF00", Type: "3"},
		},
		trips: map[string][]source.Trip{
			"100_0": {
				{TripID: "T2", RouteID: "100_0", ServiceID: "WKD", Headsign: "Loures", DirectionID: "0", ShapeID: "S0"},
				{TripID: "T1", RouteID: "100_0", ServiceID: "WKD", Headsign: "Loures", DirectionID: "0", ShapeID: "S0"},
			},
			"100_1": {
				{TripID: "T3", RouteID: "100_1", ServiceID: "SAT", Headsign: "Lisboa", DirectionID: "1", ShapeID: "S1"},
			},
		},
		dates: map[string][]string{
			"WKD": {"20240101", "20240102"},
			"SAT": {"20240106"},
		},
		stopTimes: map[string][]source.StopTime{
			"T1": {
				stopTime("120001", "1", "07:00:00", "07:00:00"),
				stopTime("120002", "2", "07:10:00", "07:10:00"),
				stopTime("130001", "3", "07:20:00", "07:20:00"),
			},
			"T2": {
				stopTime("120001", "1", "25:10:00", "25:10:00"),
				stopTime("130001", "2", "25:30:00", "25:30:00"),
			},
			"T3": {
				stopTime("130001", "1", "08:00:00", "08:00:00"),
				stopTime("120001", "2", "08:30:00", "08:30:00"),
			},
		},
		stops: []source.Stop{
			{StopID: "120001", StopName: "Praça", StopLat: "38.7", StopLon: "-9.1"},
			{StopID: "120002", StopName: "Escola", StopLat: "38.8", StopLon: "-9.2"},
			{StopID: "130001", StopName: "Loures", StopLat: "38.9", StopLon: "-9.3"},
			{StopID: "990001", StopName: "Depot", StopLat: "38.0", StopLon: "-9.0"},
		},
		scheduleRows: []source.StopScheduleRow{
			{StopID: "120001", RouteID: "100_0", RouteShortName: "100", TripID: "T1", DirectionID: "0", TripHeadsign: "Loures", StopSequence: "1", ArrivalTime: "07:00:00", DepartureTime: "07:00:00", Dates: "20240102,20240101"},
			{StopID: "120001", RouteID: "100_1", RouteShortName: "100", RouteColor: "00FF00", TripID: "T3", DirectionID: "1", TripHeadsign: "Lisboa", StopSequence: "2", ArrivalTime: "08:30:00", DepartureTime: "08:30:00", Dates: "20240106"},
			{StopID: "120001", RouteID: "100_0", RouteShortName: "100", TripID: "T2", DirectionID: "0", TripHeadsign: "Loures", StopSequence: "1", ArrivalTime: "25:10:00", DepartureTime: "25:10:00", Dates: "20240101,20240102"},
			{StopID: "130001", RouteID: "100_0", RouteShortName: "100", TripID: "T1", DirectionID: "0", TripHeadsign: "Loures", StopSequence: "3", ArrivalTime: "07:20:00", DepartureTime: "07:20:00", Dates: "20240101,20240102"},
			{StopID: "130001", RouteID: "900_0", RouteShortName: "900", TripID: "T9", DirectionID: "0", TripHeadsign: "Ghost", StopSequence: "1", ArrivalTime: "09:00:00", DepartureTime: "09:00:00"},
		},
		shapePoints: []source.ShapePoint{
			{ShapeID: "S0", Lat: "38.3", Lon: "-9.3", Sequence: "10"},
			{ShapeID: "S0", Lat: "38.2", Lon: "-9.2", Sequence: "2"},
			{ShapeID: "S1", Lat: "38.0", Lon: "-9.0", Sequence: "1"},
			{ShapeID: "S0", Lat: "38.1", Lon: "-9.1", Sequence: "1"},
			{ShapeID: "S1", Lat: "38.1", Lon: "-9.1", Sequence: "2"},
		},
	}
}

func areas() *fakeAreas {
	return &fakeAreas{items: []models.Municipality{
		{ID: "12", Value: "Lisboa"},
		{ID: "13", Value: "Loures"},
	}}
}
