// Package models holds the documents produced by the builder and served by
// the read API.
package models

import (
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Municipality is a served area from the reference lookup
type Municipality struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Line groups every route variant sharing one public short name
type Line struct {
	ShortName      string         `json:"route_short_name"`
	RouteIDs       []string       `json:"route_ids"`
	LongName       string         `json:"route_long_name"`
	Color          string         `json:"route_color"`
	TextColor      string         `json:"route_text_color"`
	Type           string         `json:"route_type"`
	Municipalities []Municipality `json:"municipalities"`
	Patterns       []Pattern      `json:"patterns"`
}

// Summary projects the fields embedded in stop documents.
func (l *Line) Summary() LineSummary {
	return LineSummary{
		ShortName:      l.ShortName,
		LongName:       l.LongName,
		RouteIDs:       l.RouteIDs,
		Color:          l.Color,
		TextColor:      l.TextColor,
		Municipalities: l.Municipalities,
	}
}

// Pattern is one direction of one route variant
type Pattern struct {
	PatternID   string `json:"pattern_id"` // "<route_id>_<direction_id>"
	RouteID     string `json:"route_id"`
	DirectionID string `json:"direction_id"`
	Headsign    string `json:"headsign"`
	Trips       []Trip `json:"trips"`
}

// Trip is one scheduled vehicle run
type Trip struct {
	TripID       string          `json:"trip_id"`
	ShapeID      string          `json:"shape_id"`
	CalendarDesc string          `json:"calendar_desc"`
	Dates        []string        `json:"dates"` // YYYYMMDD, added service only
	Schedule     []ScheduleEntry `json:"schedule"`
}

// ScheduleEntry is one stop visit within a trip.
// The *Operation fields keep the unwrapped GTFS value (may exceed 24:00:00).
type ScheduleEntry struct {
	StopID                 string `json:"stop_id"`
	StopName               string `json:"stop_name"`
	StopLat                string `json:"stop_lat"`
	StopLon                string `json:"stop_lon"`
	StopSequence           string `json:"stop_sequence"`
	ArrivalTime            string `json:"arrival_time"`
	ArrivalTimeOperation   string `json:"arrival_time_operation"`
	DepartureTime          string `json:"departure_time"`
	DepartureTimeOperation string `json:"departure_time_operation"`
	ShapeDistTraveled      string `json:"shape_dist_traveled"`
}

// LineSummary is the read-only view of a persisted Line attached to stops
type LineSummary struct {
	ShortName      string         `json:"route_short_name"`
	LongName       string         `json:"route_long_name"`
	RouteIDs       []string       `json:"route_ids"`
	Color          string         `json:"route_color"`
	TextColor      string         `json:"route_text_color"`
	Municipalities []Municipality `json:"municipalities"`
}

// Stop is one physical stop with its full departure board
type Stop struct {
	StopID   string              `json:"stop_id"`
	StopName string              `json:"stop_name"`
	StopLat  string              `json:"stop_lat"`
	StopLon  string              `json:"stop_lon"`
	Routes   []LineSummary       `json:"routes"`
	Schedule []StopScheduleEntry `json:"schedule"`
}

// StopScheduleEntry is one trip calling at a stop
type StopScheduleEntry struct {
	RouteID                string   `json:"route_id"`
	RouteShortName         string   `json:"route_short_name"`
	RouteColor             string   `json:"route_color"`
	RouteTextColor         string   `json:"route_text_color"`
	TripID                 string   `json:"trip_id"`
	DirectionID            string   `json:"direction_id"`
	TripHeadsign           string   `json:"trip_headsign"`
	Dates                  []string `json:"dates"`
	StopSequence           string   `json:"stop_sequence"`
	ArrivalTime            string   `json:"arrival_time"`
	ArrivalTimeOperation   string   `json:"arrival_time_operation"`
	DepartureTime          string   `json:"departure_time"`
	DepartureTimeOperation string   `json:"departure_time_operation"`
}

// Shape is one path geometry
type Shape struct {
	ShapeID string           `json:"shape_id"`
	Points  []ShapePoint     `json:"points"`
	GeoJSON *geojson.Feature `json:"geojson"`
}

// ShapePoint keeps the source text of shapes.txt
type ShapePoint struct {
	Lat          string `json:"shape_pt_lat"`
	Lon          string `json:"shape_pt_lon"`
	Sequence     string `json:"shape_pt_sequence"`
	DistTraveled string `json:"shape_dist_traveled"`
}
