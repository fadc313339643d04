package build

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"

	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/gtfstime"
	"github.com/transitdocs/schedule-builder/internal/models"
	"github.com/transitdocs/schedule-builder/internal/source"
)

// StopAssembler builds one Stop document per stop, attaching the summaries
// of the persisted lines that call there.
type StopAssembler struct {
	src       Source
	store     *docstore.Store
	cacheSize int
	log       logrus.FieldLogger
}

func NewStopAssembler(src Source, store *docstore.Store, cacheSize int, log logrus.FieldLogger) *StopAssembler {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &StopAssembler{
		src:       src,
		store:     store,
		cacheSize: cacheSize,
		log:       log.WithField("stage", StageStops),
	}
}

// Run rebuilds the stops collection. It reads line summaries from the
// store, so it needs proof that the line stage has committed.
func (a *StopAssembler) Run(ctx context.Context, lines LinesCommitted) (docstore.Counts, error) {
	if !lines.valid() {
		return docstore.Counts{}, ErrLinesNotCommitted
	}
	start := time.Now()

	stops, err := a.src.Stops(ctx)
	if err != nil {
		return docstore.Counts{}, sourceError(err, "stops")
	}
	rows, err := a.src.StopScheduleRows(ctx)
	if err != nil {
		return docstore.Counts{}, sourceError(err, "stop schedules")
	}

	a.log.WithFields(logrus.Fields{
		"stops":      len(stops),
		"rows":       len(rows),
		"lines_from": lines.RunID(),
	}).Info("loaded stop schedules")

	summaries := a.newSummaryCache(ctx)
	grouped, err := assembleStops(stops, rows, func(shortName string) (*models.LineSummary, error) {
		v, err := summaries.Get(shortName)
		if err != nil {
			return nil, err
		}
		return v.(*models.LineSummary), nil
	}, a.log)
	if err != nil {
		return docstore.Counts{}, err
	}

	rec := newReconciler(a.store, docstore.Stops)
	for _, stop := range grouped {
		if err := rec.upsert(ctx, stop.StopID, stop); err != nil {
			return docstore.Counts{}, err
		}
		a.log.WithFields(logrus.Fields{"stop": stop.StopID, "entries": len(stop.Schedule)}).Debug("saved stop")
	}

	counts, err := rec.finish(ctx)
	if err != nil {
		return docstore.Counts{}, err
	}

	a.log.WithFields(logrus.Fields{
		"upserted":     counts.Upserted,
		"deleted":      counts.Deleted,
		"summary_hits": summaries.HitCount(),
		"summary_miss": summaries.MissCount(),
		"elapsed":      time.Since(start).Round(time.Millisecond),
	}).Info("stops rebuilt")
	return counts, nil
}

// newSummaryCache reads each line summary from the store at most once per
// run. A missing line is cached as a nil summary.
func (a *StopAssembler) newSummaryCache(ctx context.Context) gcache.Cache {
	return gcache.New(a.cacheSize).
		LRU().
		LoaderFunc(func(key interface{}) (interface{}, error) {
			shortName := key.(string)
			line, err := docstore.Load[models.Line](ctx, a.store, docstore.Lines, shortName)
			if errors.Is(err, docstore.ErrNotFound) {
				return (*models.LineSummary)(nil), nil
			}
			if err != nil {
				return nil, persistenceError(err, "load line %s", shortName)
			}
			summary := line.Summary()
			return &summary, nil
		}).
		Build()
}

type summaryFunc func(shortName string) (*models.LineSummary, error)

// assembleStops folds schedule rows into the stops table. Stops keep the
// order of the stops query; a stop without service keeps an empty schedule.
func assembleStops(stops []source.Stop, rows []source.StopScheduleRow, summary summaryFunc, log logrus.FieldLogger) ([]*models.Stop, error) {
	grouped := newOrdered[models.Stop]()
	for _, s := range stops {
		grouped.getOrAdd(s.StopID, func() models.Stop {
			return newStop(s.StopID, s.StopName, s.StopLat, s.StopLon)
		})
	}

	attached := make(map[string]map[string]bool)
	for _, row := range rows {
		stop := grouped.getOrAdd(row.StopID, func() models.Stop {
			return newStop(row.StopID, "", "", "")
		})

		arrival, err := gtfstime.Parse(row.ArrivalTime)
		if err != nil {
			return nil, invalidData(err, "stop %s trip %s arrival", row.StopID, row.TripID)
		}
		departure, err := gtfstime.Parse(row.DepartureTime)
		if err != nil {
			return nil, invalidData(err, "stop %s trip %s departure", row.StopID, row.TripID)
		}

		stop.Schedule = append(stop.Schedule, models.StopScheduleEntry{
			RouteID:                row.RouteID,
			RouteShortName:         row.RouteShortName,
			RouteColor:             hexColor(row.RouteColor, defaultRouteColor),
			RouteTextColor:         hexColor(row.RouteTextColor, defaultRouteTextColor),
			TripID:                 row.TripID,
			DirectionID:            row.DirectionID,
			TripHeadsign:           row.TripHeadsign,
			Dates:                  row.ServiceDates(),
			StopSequence:           row.StopSequence,
			ArrivalTime:            arrival.Display,
			ArrivalTimeOperation:   arrival.Raw,
			DepartureTime:          departure.Display,
			DepartureTimeOperation: departure.Raw,
		})

		seen := attached[row.StopID]
		if seen == nil {
			seen = make(map[string]bool)
			attached[row.StopID] = seen
		}
		if seen[row.RouteShortName] {
			continue
		}
		seen[row.RouteShortName] = true

		s, err := summary(row.RouteShortName)
		if err != nil {
			return nil, err
		}
		if s == nil {
			log.WithFields(logrus.Fields{
				"stop": row.StopID,
				"line": row.RouteShortName,
			}).Warn("no persisted line for stop schedule, skipping summary")
			continue
		}
		stop.Routes = append(stop.Routes, *s)
	}

	out := grouped.values()
	for _, stop := range out {
		sort.SliceStable(stop.Schedule, func(i, j int) bool {
			return stop.Schedule[i].DepartureTimeOperation < stop.Schedule[j].DepartureTimeOperation
		})
	}
	return out, nil
}

func newStop(id, name, lat, lon string) models.Stop {
	return models.Stop{
		StopID:   id,
		StopName: name,
		StopLat:  lat,
		StopLon:  lon,
		Routes:   []models.LineSummary{},
		Schedule: []models.StopScheduleEntry{},
	}
}
