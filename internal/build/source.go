package build

import (
	"context"

	"github.com/transitdocs/schedule-builder/internal/municipality"
	"github.com/transitdocs/schedule-builder/internal/source"
)

// Source is the read side of the relational GTFS store. The ordering each
// method guarantees is documented on *source.Store.
type Source interface {
	Routes(ctx context.Context) ([]source.Route, error)
	TripsForRoute(ctx context.Context, routeID string) ([]source.Trip, error)
	AddedServiceDates(ctx context.Context, serviceID string) ([]string, error)
	StopTimesForTrip(ctx context.Context, tripID string) ([]source.StopTime, error)
	Stops(ctx context.Context) ([]source.Stop, error)
	StopScheduleRows(ctx context.Context) ([]source.StopScheduleRow, error)
	ShapePoints(ctx context.Context) ([]source.ShapePoint, error)
}

// AreaFetcher loads the municipality table once per run
type AreaFetcher interface {
	Fetch(ctx context.Context) (*municipality.Table, error)
}

var (
	_ Source      = (*source.Store)(nil)
	_ AreaFetcher = (*municipality.Client)(nil)
)
