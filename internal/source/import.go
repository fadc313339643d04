package source

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/transitdocs/schedule-builder/internal/feed"
)

// ImportCounts reports how many rows each table received
type ImportCounts struct {
	Routes        int
	Trips         int
	Stops         int
	StopTimes     int
	CalendarDates int
	Shapes        int
}

// Import replaces the GTFS tables with the rows of data in one transaction.
// Rows are inserted in file order, which is the order the feed-order
// queries return them in. A duplicate route or trip keeps its first row.
func (s *Store) Import(ctx context.Context, data *feed.Data) (ImportCounts, error) {
	var counts ImportCounts

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"routes", "trips", "calendar_dates", "stops", "stop_times", "shapes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return counts, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	counts.Routes, err = insertAll(ctx, tx, `
		INSERT OR IGNORE INTO routes (route_id, agency_id, route_short_name, route_long_name, route_type, route_color, route_text_color)
		VALUES (:route_id, :agency_id, :route_short_name, :route_long_name, :route_type, :route_color, :route_text_color)
	`, data.Routes)
	if err != nil {
		return counts, fmt.Errorf("failed to import routes: %w", err)
	}

	counts.Trips, err = insertAll(ctx, tx, `
		INSERT OR IGNORE INTO trips (trip_id, route_id, service_id, trip_headsign, direction_id, shape_id, calendar_desc)
		VALUES (:trip_id, :route_id, :service_id, :trip_headsign, :direction_id, :shape_id, :calendar_desc)
	`, data.Trips)
	if err != nil {
		return counts, fmt.Errorf("failed to import trips: %w", err)
	}

	counts.CalendarDates, err = insertAll(ctx, tx, `
		INSERT OR REPLACE INTO calendar_dates (service_id, date, exception_type)
		VALUES (:service_id, :date, :exception_type)
	`, data.CalendarDates)
	if err != nil {
		return counts, fmt.Errorf("failed to import calendar_dates: %w", err)
	}

	counts.Stops, err = insertAll(ctx, tx, `
		INSERT OR REPLACE INTO stops (stop_id, stop_name, stop_lat, stop_lon)
		VALUES (:stop_id, :stop_name, :stop_lat, :stop_lon)
	`, data.Stops)
	if err != nil {
		return counts, fmt.Errorf("failed to import stops: %w", err)
	}

	counts.StopTimes, err = insertAll(ctx, tx, `
		INSERT OR REPLACE INTO stop_times (trip_id, arrival_time, departure_time, stop_id, stop_sequence, shape_dist_traveled)
		VALUES (:trip_id, :arrival_time, :departure_time, :stop_id, :stop_sequence, :shape_dist_traveled)
	`, data.StopTimes)
	if err != nil {
		return counts, fmt.Errorf("failed to import stop_times: %w", err)
	}

	counts.Shapes, err = insertAll(ctx, tx, `
		INSERT INTO shapes (shape_id, shape_pt_lat, shape_pt_lon, shape_pt_sequence, shape_dist_traveled)
		VALUES (:shape_id, :shape_pt_lat, :shape_pt_lon, :shape_pt_sequence, :shape_dist_traveled)
	`, data.Shapes)
	if err != nil {
		return counts, fmt.Errorf("failed to import shapes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("failed to commit import: %w", err)
	}
	return counts, nil
}

func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) (int, error) {
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}
