// Package source reads the normalized GTFS tables the builder transforms.
//
// Every query that feeds a first-seen grouping declares its ORDER BY here;
// callers rely on that order and nothing else.
package source

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Route is one row of routes (a route variant)
type Route struct {
	RouteID   string `db:"route_id"`
	ShortName string `db:"route_short_name"`
	LongName  string `db:"route_long_name"`
	Color     string `db:"route_color"`
	TextColor string `db:"route_text_color"`
	Type      string `db:"route_type"`
}

// Trip is one row of trips
type Trip struct {
	TripID       string `db:"trip_id"`
	RouteID      string `db:"route_id"`
	ServiceID    string `db:"service_id"`
	Headsign     string `db:"trip_headsign"`
	DirectionID  string `db:"direction_id"`
	ShapeID      string `db:"shape_id"`
	CalendarDesc string `db:"calendar_desc"`
}

// StopTime is a stop_times row joined with its stop
type StopTime struct {
	StopID            string `db:"stop_id"`
	StopSequence      string `db:"stop_sequence"`
	ArrivalTime       string `db:"arrival_time"`
	DepartureTime     string `db:"departure_time"`
	ShapeDistTraveled string `db:"shape_dist_traveled"`
	StopName          string `db:"stop_name"`
	StopLat           string `db:"stop_lat"`
	StopLon           string `db:"stop_lon"`
}

// Stop is one row of stops
type Stop struct {
	StopID   string `db:"stop_id"`
	StopName string `db:"stop_name"`
	StopLat  string `db:"stop_lat"`
	StopLon  string `db:"stop_lon"`
}

// StopScheduleRow is one trip calling at one stop, with the trip's added
// service dates aggregated into a comma separated list
type StopScheduleRow struct {
	StopID         string `db:"stop_id"`
	RouteID        string `db:"route_id"`
	RouteShortName string `db:"route_short_name"`
	RouteColor     string `db:"route_color"`
	RouteTextColor string `db:"route_text_color"`
	TripID         string `db:"trip_id"`
	DirectionID    string `db:"direction_id"`
	TripHeadsign   string `db:"trip_headsign"`
	StopSequence   string `db:"stop_sequence"`
	ArrivalTime    string `db:"arrival_time"`
	DepartureTime  string `db:"departure_time"`
	Dates          string `db:"dates"`
}

// ServiceDates splits Dates into a sorted list without duplicates.
func (r StopScheduleRow) ServiceDates() []string {
	dates := []string{}
	seen := make(map[string]bool)
	for _, d := range strings.Split(r.Dates, ",") {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// ShapePoint is one row of shapes, kept as text
type ShapePoint struct {
	ShapeID      string `db:"shape_id"`
	Lat          string `db:"shape_pt_lat"`
	Lon          string `db:"shape_pt_lon"`
	Sequence     string `db:"shape_pt_sequence"`
	DistTraveled string `db:"shape_dist_traveled"`
}

// Store reads GTFS tables over a single connection
type Store struct {
	db *sqlx.DB
}

// Open opens the SQLite database holding the GTFS tables
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}

	// One connection for the whole run; queries are issued sequentially.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping source database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle (used by the feed importer and tests)
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// EnsureSchema creates the GTFS tables if they don't exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create source schema: %w", err)
	}
	return nil
}

// Routes returns every route variant in feed order
func (s *Store) Routes(ctx context.Context) ([]Route, error) {
	var routes []Route
	err := s.db.SelectContext(ctx, &routes, `
		SELECT
			route_id,
			route_short_name,
			COALESCE(route_long_name, '')  AS route_long_name,
			COALESCE(route_color, '')      AS route_color,
			COALESCE(route_text_color, '') AS route_text_color,
			COALESCE(route_type, '')       AS route_type
		FROM routes
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	return routes, nil
}

// TripsForRoute returns the trips of one route variant in feed order
func (s *Store) TripsForRoute(ctx context.Context, routeID string) ([]Trip, error) {
	var trips []Trip
	err := s.db.SelectContext(ctx, &trips, `
		SELECT
			trip_id,
			route_id,
			service_id,
			COALESCE(trip_headsign, '') AS trip_headsign,
			COALESCE(direction_id, '')  AS direction_id,
			COALESCE(shape_id, '')      AS shape_id,
			COALESCE(calendar_desc, '') AS calendar_desc
		FROM trips
		WHERE route_id = ?
		ORDER BY rowid
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips for route %s: %w", routeID, err)
	}
	return trips, nil
}

// AddedServiceDates returns the dates a service is added on
// (calendar_dates.exception_type = 1), ascending
func (s *Store) AddedServiceDates(ctx context.Context, serviceID string) ([]string, error) {
	dates := []string{}
	err := s.db.SelectContext(ctx, &dates, `
		SELECT date
		FROM calendar_dates
		WHERE service_id = ?
		  AND exception_type = 1
		ORDER BY date
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dates for service %s: %w", serviceID, err)
	}
	return dates, nil
}

// StopTimesForTrip returns the stops of one trip ordered by stop_sequence
func (s *Store) StopTimesForTrip(ctx context.Context, tripID string) ([]StopTime, error) {
	var stopTimes []StopTime
	err := s.db.SelectContext(ctx, &stopTimes, `
		SELECT
			st.stop_id,
			st.stop_sequence,
			COALESCE(st.arrival_time, '')        AS arrival_time,
			COALESCE(st.departure_time, '')      AS departure_time,
			COALESCE(st.shape_dist_traveled, '') AS shape_dist_traveled,
			COALESCE(s.stop_name, '')            AS stop_name,
			COALESCE(s.stop_lat, '')             AS stop_lat,
			COALESCE(s.stop_lon, '')             AS stop_lon
		FROM stop_times st
		INNER JOIN stops s ON st.stop_id = s.stop_id
		WHERE st.trip_id = ?
		ORDER BY st.stop_sequence
	`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop times for trip %s: %w", tripID, err)
	}
	return stopTimes, nil
}

// Stops returns every stop ordered by stop_id
func (s *Store) Stops(ctx context.Context) ([]Stop, error) {
	var stops []Stop
	err := s.db.SelectContext(ctx, &stops, `
		SELECT
			stop_id,
			COALESCE(stop_name, '') AS stop_name,
			COALESCE(stop_lat, '')  AS stop_lat,
			COALESCE(stop_lon, '')  AS stop_lon
		FROM stops
		ORDER BY stop_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	return stops, nil
}

// StopScheduleRows returns every stop visit ordered by stop_id, then
// departure_time, then trip_id. The stop assembler depends on this order.
func (s *Store) StopScheduleRows(ctx context.Context) ([]StopScheduleRow, error) {
	var rows []StopScheduleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			s.stop_id,
			r.route_id,
			r.route_short_name,
			COALESCE(r.route_color, '')      AS route_color,
			COALESCE(r.route_text_color, '') AS route_text_color,
			t.trip_id,
			COALESCE(t.direction_id, '')     AS direction_id,
			COALESCE(t.trip_headsign, '')    AS trip_headsign,
			st.stop_sequence,
			COALESCE(st.arrival_time, '')    AS arrival_time,
			COALESCE(st.departure_time, '')  AS departure_time,
			COALESCE(GROUP_CONCAT(cd.date), '') AS dates
		FROM stops s
		JOIN stop_times st ON st.stop_id = s.stop_id
		JOIN trips t ON t.trip_id = st.trip_id
		JOIN routes r ON r.route_id = t.route_id
		LEFT JOIN calendar_dates cd ON cd.service_id = t.service_id AND cd.exception_type = 1
		GROUP BY s.stop_id, t.trip_id, st.stop_sequence
		ORDER BY s.stop_id, st.departure_time, t.trip_id, st.stop_sequence
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop schedules: %w", err)
	}
	return rows, nil
}

// ShapePoints returns every shape point in feed order. Points are not
// sorted here: shape_pt_sequence is text and needs numeric ordering.
func (s *Store) ShapePoints(ctx context.Context) ([]ShapePoint, error) {
	var points []ShapePoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT
			shape_id,
			shape_pt_lat,
			shape_pt_lon,
			shape_pt_sequence,
			COALESCE(shape_dist_traveled, '') AS shape_dist_traveled
		FROM shapes
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shapes: %w", err)
	}
	return points, nil
}
