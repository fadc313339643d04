package build

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/gtfstime"
	"github.com/transitdocs/schedule-builder/internal/models"
	"github.com/transitdocs/schedule-builder/internal/municipality"
	"github.com/transitdocs/schedule-builder/internal/source"
)

const (
	defaultRouteColor     = "FA3250"
	defaultRouteTextColor = "FFFFFF"
)

// LinesCommitted is handed out only by a completed line stage (or read back
// from a run record that has one). The stop stage requires it.
type LinesCommitted struct {
	runID string
}

// RunID is the run whose line stage committed
func (c LinesCommitted) RunID() string {
	return c.runID
}

func (c LinesCommitted) valid() bool {
	return c.runID != ""
}

// committedFromRun recovers the barrier from a recorded run
func committedFromRun(run *docstore.Run) (LinesCommitted, bool) {
	if run == nil || run.Status != docstore.RunSucceeded || !run.Committed(string(StageLines)) {
		return LinesCommitted{}, false
	}
	return LinesCommitted{runID: run.ID}, true
}

// LineAssembler groups route variants into Line documents
type LineAssembler struct {
	src   Source
	store *docstore.Store
	areas AreaFetcher
	log   logrus.FieldLogger

	serviceDates map[string][]string
}

func NewLineAssembler(src Source, store *docstore.Store, areas AreaFetcher, log logrus.FieldLogger) *LineAssembler {
	return &LineAssembler{
		src:   src,
		store: store,
		areas: areas,
		log:   log.WithField("stage", StageLines),
	}
}

type lineGroup struct {
	line     models.Line
	variants []source.Route
}

// Run rebuilds the lines collection. The municipality table is fetched
// before anything is written, so a lookup failure leaves the store as it was.
func (a *LineAssembler) Run(ctx context.Context, runID string) (LinesCommitted, docstore.Counts, error) {
	start := time.Now()
	a.serviceDates = make(map[string][]string)

	areas, err := a.areas.Fetch(ctx)
	if err != nil {
		return LinesCommitted{}, docstore.Counts{}, fmt.Errorf("%w: %w", ErrReferenceLookup, err)
	}
	a.log.WithField("municipalities", areas.Len()).Debug("fetched municipalities")

	routes, err := a.src.Routes(ctx)
	if err != nil {
		return LinesCommitted{}, docstore.Counts{}, sourceError(err, "routes")
	}

	groups := groupRoutes(routes)
	a.log.WithFields(logrus.Fields{"routes": len(routes), "lines": groups.len()}).Info("grouped route variants")

	rec := newReconciler(a.store, docstore.Lines)
	for _, group := range groups.values() {
		line, err := a.assembleLine(ctx, group, areas)
		if err != nil {
			return LinesCommitted{}, docstore.Counts{}, err
		}
		if err := rec.upsert(ctx, line.ShortName, line); err != nil {
			return LinesCommitted{}, docstore.Counts{}, err
		}
		a.log.WithFields(logrus.Fields{
			"line":     line.ShortName,
			"patterns": len(line.Patterns),
		}).Debug("saved line")
	}

	counts, err := rec.finish(ctx)
	if err != nil {
		return LinesCommitted{}, docstore.Counts{}, err
	}

	a.log.WithFields(logrus.Fields{
		"upserted": counts.Upserted,
		"deleted":  counts.Deleted,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("lines rebuilt")
	return LinesCommitted{runID: runID}, counts, nil
}

// groupRoutes collects variants by short name. The first variant seen
// supplies the line's descriptive fields.
func groupRoutes(routes []source.Route) *ordered[lineGroup] {
	groups := newOrdered[lineGroup]()
	for _, r := range routes {
		group := groups.getOrAdd(r.ShortName, func() lineGroup {
			return lineGroup{line: models.Line{
				ShortName:      r.ShortName,
				RouteIDs:       []string{},
				LongName:       r.LongName,
				Color:          hexColor(r.Color, defaultRouteColor),
				TextColor:      hexColor(r.TextColor, defaultRouteTextColor),
				Type:           r.Type,
				Municipalities: []models.Municipality{},
				Patterns:       []models.Pattern{},
			}}
		})
		if !slices.Contains(group.line.RouteIDs, r.RouteID) {
			group.line.RouteIDs = append(group.line.RouteIDs, r.RouteID)
			group.variants = append(group.variants, r)
		}
	}
	return groups
}

func (a *LineAssembler) assembleLine(ctx context.Context, group *lineGroup, areas *municipality.Table) (*models.Line, error) {
	line := group.line
	line.Municipalities = []models.Municipality{}
	line.Patterns = []models.Pattern{}
	enricher := newAreaEnricher(areas)

	for _, variant := range group.variants {
		trips, err := a.src.TripsForRoute(ctx, variant.RouteID)
		if err != nil {
			return nil, sourceError(err, "trips of route %s", variant.RouteID)
		}

		patterns := newOrdered[models.Pattern]()
		for _, t := range trips {
			key := variant.RouteID + "_" + t.DirectionID
			pattern := patterns.getOrAdd(key, func() models.Pattern {
				return models.Pattern{
					PatternID:   key,
					RouteID:     variant.RouteID,
					DirectionID: t.DirectionID,
					Headsign:    t.Headsign,
					Trips:       []models.Trip{},
				}
			})
			if pattern.Headsign != t.Headsign {
				a.log.WithFields(logrus.Fields{
					"line":     line.ShortName,
					"pattern":  key,
					"trip":     t.TripID,
					"headsign": t.Headsign,
				}).Warn("trip headsign differs from its pattern, keeping the first")
			}

			trip, err := a.assembleTrip(ctx, t, enricher)
			if err != nil {
				return nil, err
			}
			pattern.Trips = append(pattern.Trips, trip)
		}

		for _, pattern := range patterns.values() {
			sortTripsByFirstDeparture(pattern.Trips)
			line.Patterns = append(line.Patterns, *pattern)
		}
	}

	line.Municipalities = enricher.served
	return &line, nil
}

func (a *LineAssembler) assembleTrip(ctx context.Context, t source.Trip, enricher *areaEnricher) (models.Trip, error) {
	dates, err := a.datesFor(ctx, t.ServiceID)
	if err != nil {
		return models.Trip{}, err
	}

	stopTimes, err := a.src.StopTimesForTrip(ctx, t.TripID)
	if err != nil {
		return models.Trip{}, sourceError(err, "stop times of trip %s", t.TripID)
	}

	trip := models.Trip{
		TripID:       t.TripID,
		ShapeID:      t.ShapeID,
		CalendarDesc: t.CalendarDesc,
		Dates:        dates,
		Schedule:     make([]models.ScheduleEntry, 0, len(stopTimes)),
	}

	for _, st := range stopTimes {
		arrival, err := gtfstime.Parse(st.ArrivalTime)
		if err != nil {
			return models.Trip{}, invalidData(err, "trip %s stop %s arrival", t.TripID, st.StopID)
		}
		departure, err := gtfstime.Parse(st.DepartureTime)
		if err != nil {
			return models.Trip{}, invalidData(err, "trip %s stop %s departure", t.TripID, st.StopID)
		}

		enricher.visit(st.StopID)

		trip.Schedule = append(trip.Schedule, models.ScheduleEntry{
			StopID:                 st.StopID,
			StopName:               st.StopName,
			StopLat:                st.StopLat,
			StopLon:                st.StopLon,
			StopSequence:           st.StopSequence,
			ArrivalTime:            arrival.Display,
			ArrivalTimeOperation:   arrival.Raw,
			DepartureTime:          departure.Display,
			DepartureTimeOperation: departure.Raw,
			ShapeDistTraveled:      st.ShapeDistTraveled,
		})
	}
	return trip, nil
}

// datesFor memoizes added service dates per service id for the run
func (a *LineAssembler) datesFor(ctx context.Context, serviceID string) ([]string, error) {
	if dates, ok := a.serviceDates[serviceID]; ok {
		return dates, nil
	}
	dates, err := a.src.AddedServiceDates(ctx, serviceID)
	if err != nil {
		return nil, sourceError(err, "dates of service %s", serviceID)
	}
	if dates == nil {
		dates = []string{}
	}
	a.serviceDates[serviceID] = dates
	return dates, nil
}

// sortTripsByFirstDeparture orders trips by the raw departure of their first
// entry. A trip with no entries sorts as the empty string, i.e. first.
func sortTripsByFirstDeparture(trips []models.Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		return firstDeparture(trips[i]) < firstDeparture(trips[j])
	})
}

func firstDeparture(t models.Trip) string {
	if len(t.Schedule) == 0 {
		return ""
	}
	return t.Schedule[0].DepartureTimeOperation
}

// areaEnricher collects the municipalities a line serves, in the order
// their stops are first visited.
type areaEnricher struct {
	table   *municipality.Table
	checked map[string]bool
	served  []models.Municipality
}

func newAreaEnricher(table *municipality.Table) *areaEnricher {
	return &areaEnricher{
		table:   table,
		checked: make(map[string]bool),
		served:  []models.Municipality{},
	}
}

func (e *areaEnricher) visit(stopID string) {
	code, ok := municipality.AreaCode(stopID)
	if !ok || e.checked[code] {
		return
	}
	e.checked[code] = true
	if m, ok := e.table.Lookup(code); ok {
		e.served = append(e.served, m)
	}
}

// hexColor prefixes a GTFS color with "#", substituting fallback when blank
func hexColor(color, fallback string) string {
	color = strings.TrimPrefix(strings.TrimSpace(color), "#")
	if color == "" {
		color = fallback
	}
	return "#" + color
}
