package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "gtfs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func seed(t *testing.T, store *Store, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := store.DB().Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func TestRoutes_FeedOrderAndNullDefaults(t *testing.T) {
	store := openTestStore(t)
	seed(t, store,
		`INSERT INTO routes (route_id, route_short_name, route_long_name, route_type, route_color, route_text_color)
		 VALUES ('200_0', '200', 'B - C', '3', NULL, NULL)`,
		`INSERT INTO routes (route_id, route_short_name, route_long_name, route_type, route_color, route_text_color)
		 VALUES ('100_0', '100', 'A - B', '3', 'FF0000', 'FFFFFF')`,
	)

	routes, err := store.Routes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "200_0", routes[0].RouteID)
	assert.Equal(t, "", routes[0].Color)
	assert.Equal(t, "100_0", routes[1].RouteID)
	assert.Equal(t, "FF0000", routes[1].Color)
}

func TestAddedServiceDates_OnlyExceptionTypeOne(t *testing.T) {
	store := openTestStore(t)
	seed(t, store,
		`INSERT INTO calendar_dates VALUES ('WKD', '20240103', 1)`,
		`INSERT INTO calendar_dates VALUES ('WKD', '20240101', 1)`,
		`INSERT INTO calendar_dates VALUES ('WKD', '20240102', 2)`,
		`INSERT INTO calendar_dates VALUES ('SAT', '20240106', 1)`,
	)

	dates, err := store.AddedServiceDates(context.Background(), "WKD")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101", "20240103"}, dates)

	dates, err = store.AddedServiceDates(context.Background(), "NONE")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestStopTimesForTrip_OrderedBySequence(t *testing.T) {
	store := openTestStore(t)
	seed(t, store,
		`INSERT INTO stops VALUES ('120001', 'Praça', '38.7', '-9.1')`,
		`INSERT INTO stops VALUES ('120002', 'Escola', '38.8', '-9.2')`,
		`INSERT INTO stop_times VALUES ('T1', '08:10:00', '08:10:00', '120002', 10, '1.5')`,
		`INSERT INTO stop_times VALUES ('T1', '08:00:00', '08:00:00', '120001', 2, NULL)`,
	)

	stopTimes, err := store.StopTimesForTrip(context.Background(), "T1")
	require.NoError(t, err)
	require.Len(t, stopTimes, 2)

	assert.Equal(t, "120001", stopTimes[0].StopID)
	assert.Equal(t, "2", stopTimes[0].StopSequence)
	assert.Equal(t, "", stopTimes[0].ShapeDistTraveled)
	assert.Equal(t, "Praça", stopTimes[0].StopName)
	assert.Equal(t, "120002", stopTimes[1].StopID)
	assert.Equal(t, "10", stopTimes[1].StopSequence)
}

func TestStopScheduleRows_GroupedDatesAndOrder(t *testing.T) {
	store := openTestStore(t)
	seed(t, store,
		`INSERT INTO routes (route_id, route_short_name, route_color, route_text_color) VALUES ('100_0', '100', 'FF0000', '000000')`,
		`INSERT INTO trips VALUES ('T2', '100_0', 'WKD', 'Centro', '0', 'S1', NULL)`,
		`INSERT INTO trips VALUES ('T1', '100_0', 'SUN', 'Centro', '0', 'S1', NULL)`,
		`INSERT INTO calendar_dates VALUES ('WKD', '20240102', 1)`,
		`INSERT INTO calendar_dates VALUES ('WKD', '20240101', 1)`,
		`INSERT INTO calendar_dates VALUES ('WKD', '20240105', 2)`,
		`INSERT INTO stops VALUES ('B', 'Stop B', '0', '0')`,
		`INSERT INTO stops VALUES ('A', 'Stop A', '0', '0')`,
		`INSERT INTO stop_times VALUES ('T2', '09:00:00', '09:00:00', 'A', 1, NULL)`,
		`INSERT INTO stop_times VALUES ('T1', '07:00:00', '07:00:00', 'A', 1, NULL)`,
		`INSERT INTO stop_times VALUES ('T2', '09:05:00', '09:05:00', 'B', 2, NULL)`,
	)

	rows, err := store.StopScheduleRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"A", "A", "B"}, []string{rows[0].StopID, rows[1].StopID, rows[2].StopID})
	assert.Equal(t, "T1", rows[0].TripID, "earlier departure first within a stop")
	assert.Equal(t, "", rows[0].Dates, "service without added dates still yields a row")
	assert.Equal(t, "T2", rows[1].TripID)
	assert.Equal(t, []string{"20240101", "20240102"}, rows[1].ServiceDates())
}

func TestShapePoints_FeedOrder(t *testing.T) {
	store := openTestStore(t)
	seed(t, store,
		`INSERT INTO shapes VALUES ('S1', '38.1', '-9.1', '10', '0.9')`,
		`INSERT INTO shapes VALUES ('S1', '38.0', '-9.0', '2', NULL)`,
	)

	points, err := store.ShapePoints(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "10", points[0].Sequence)
	assert.Equal(t, "", points[1].DistTraveled)
}

func TestServiceDates(t *testing.T) {
	row := StopScheduleRow{Dates: "20240103,20240101,20240103,"}
	assert.Equal(t, []string{"20240101", "20240103"}, row.ServiceDates())
	assert.Equal(t, []string{}, StopScheduleRow{}.ServiceDates())
}
