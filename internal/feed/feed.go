// Package feed reads a GTFS static zip into raw rows for the source database.
//
// Values are kept as the text found in the files. Defaults, time handling
// and numeric parsing belong to the builder, not to the loader.
package feed

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrMissingFile is returned when a required table is absent from the zip
var ErrMissingFile = errors.New("missing required feed file")

// Data holds every table the builder reads
type Data struct {
	Routes        []Route
	Trips         []Trip
	Stops         []Stop
	StopTimes     []StopTime
	CalendarDates []CalendarDate
	Shapes        []ShapePoint
}

type Route struct {
	RouteID        string `db:"route_id"`
	AgencyID       string `db:"agency_id"`
	RouteShortName string `db:"route_short_name"`
	RouteLongName  string `db:"route_long_name"`
	RouteType      string `db:"route_type"`
	RouteColor     string `db:"route_color"`
	RouteTextColor string `db:"route_text_color"`
}

type Trip struct {
	TripID       string `db:"trip_id"`
	RouteID      string `db:"route_id"`
	ServiceID    string `db:"service_id"`
	TripHeadsign string `db:"trip_headsign"`
	DirectionID  string `db:"direction_id"`
	ShapeID      string `db:"shape_id"`
	CalendarDesc string `db:"calendar_desc"`
}

type Stop struct {
	StopID   string `db:"stop_id"`
	StopName string `db:"stop_name"`
	StopLat  string `db:"stop_lat"`
	StopLon  string `db:"stop_lon"`
}

type StopTime struct {
	TripID            string `db:"trip_id"`
	ArrivalTime       string `db:"arrival_time"`
	DepartureTime     string `db:"departure_time"`
	StopID            string `db:"stop_id"`
	StopSequence      string `db:"stop_sequence"`
	ShapeDistTraveled string `db:"shape_dist_traveled"`
}

type CalendarDate struct {
	ServiceID     string `db:"service_id"`
	Date          string `db:"date"`
	ExceptionType string `db:"exception_type"`
}

type ShapePoint struct {
	ShapeID           string `db:"shape_id"`
	ShapePtLat        string `db:"shape_pt_lat"`
	ShapePtLon        string `db:"shape_pt_lon"`
	ShapePtSequence   string `db:"shape_pt_sequence"`
	ShapeDistTraveled string `db:"shape_dist_traveled"`
}

// row reads named columns from one csv record
type row struct {
	idx    map[string]int
	record []string
}

func (r row) get(field string) string {
	if i, ok := r.idx[field]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

// Parse reads a GTFS zip file. routes, trips, stops and stop_times are
// required. calendar_dates and shapes may be missing.
func Parse(zipPath string, log logrus.FieldLogger) (*Data, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	return parseFiles(r.File, log)
}

func parseFiles(zipFiles []*zip.File, log logrus.FieldLogger) (*Data, error) {
	files := make(map[string]*zip.File, len(zipFiles))
	for _, f := range zipFiles {
		// Some producers nest the tables in a folder
		files[f.Name[strings.LastIndex(f.Name, "/")+1:]] = f
	}

	data := &Data{}
	tables := []struct {
		name     string
		optional bool
		read     func(row)
	}{
		{"routes.txt", false, func(r row) {
			data.Routes = append(data.Routes, Route{
				RouteID:        r.get("route_id"),
				AgencyID:       r.get("agency_id"),
				RouteShortName: r.get("route_short_name"),
				RouteLongName:  r.get("route_long_name"),
				RouteType:      r.get("route_type"),
				RouteColor:     r.get("route_color"),
				RouteTextColor: r.get("route_text_color"),
			})
		}},
		{"trips.txt", false, func(r row) {
			data.Trips = append(data.Trips, Trip{
				TripID:       r.get("trip_id"),
				RouteID:      r.get("route_id"),
				ServiceID:    r.get("service_id"),
				TripHeadsign: r.get("trip_headsign"),
				DirectionID:  r.get("direction_id"),
				ShapeID:      r.get("shape_id"),
				CalendarDesc: r.get("calendar_desc"),
			})
		}},
		{"stops.txt", false, func(r row) {
			data.Stops = append(data.Stops, Stop{
				StopID:   r.get("stop_id"),
				StopName: r.get("stop_name"),
				StopLat:  r.get("stop_lat"),
				StopLon:  r.get("stop_lon"),
			})
		}},
		{"stop_times.txt", false, func(r row) {
			data.StopTimes = append(data.StopTimes, StopTime{
				TripID:            r.get("trip_id"),
				ArrivalTime:       r.get("arrival_time"),
				DepartureTime:     r.get("departure_time"),
				StopID:            r.get("stop_id"),
				StopSequence:      r.get("stop_sequence"),
				ShapeDistTraveled: r.get("shape_dist_traveled"),
			})
		}},
		{"calendar_dates.txt", true, func(r row) {
			data.CalendarDates = append(data.CalendarDates, CalendarDate{
				ServiceID:     r.get("service_id"),
				Date:          r.get("date"),
				ExceptionType: r.get("exception_type"),
			})
		}},
		{"shapes.txt", true, func(r row) {
			data.Shapes = append(data.Shapes, ShapePoint{
				ShapeID:           r.get("shape_id"),
				ShapePtLat:        r.get("shape_pt_lat"),
				ShapePtLon:        r.get("shape_pt_lon"),
				ShapePtSequence:   r.get("shape_pt_sequence"),
				ShapeDistTraveled: r.get("shape_dist_traveled"),
			})
		}},
	}

	for _, t := range tables {
		f, ok := files[t.name]
		if !ok {
			if t.optional {
				log.WithField("file", t.name).Debug("optional feed file not present")
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, t.name)
		}
		skipped, err := readTable(f, t.read)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", t.name, err)
		}
		if skipped > 0 {
			log.WithFields(logrus.Fields{"file": t.name, "skipped": skipped}).Warn("skipped malformed rows")
		}
	}

	log.WithFields(logrus.Fields{
		"routes":     len(data.Routes),
		"trips":      len(data.Trips),
		"stops":      len(data.Stops),
		"stop_times": len(data.StopTimes),
		"shapes":     len(data.Shapes),
	}).Info("feed parsed")

	return data, nil
}

// readTable calls fn for each record and returns how many malformed
// records were skipped
func readTable(f *zip.File, fn func(row)) (int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, err
	}

	idx := makeIndex(header)
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		fn(row{idx: idx, record: record})
	}
	return skipped, nil
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		// Strip a UTF-8 BOM from the first column
		idx[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	return idx
}
