package build

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/models"
	"github.com/transitdocs/schedule-builder/internal/source"
)

// brokenRoute fails trip lookups for one route only, so the line stage
// dies after writing the lines that sort before it
type brokenRoute struct {
	*fakeSource
	routeID string
}

func (b brokenRoute) TripsForRoute(ctx context.Context, routeID string) ([]source.Trip, error) {
	if routeID == b.routeID {
		return nil, errBoom
	}
	return b.fakeSource.TripsForRoute(ctx, routeID)
}

// steppingClock returns times one minute apart so run order is explicit
func steppingClock() func() time.Time {
	now := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func newPipeline(t *testing.T, src Source, store *docstore.Store, fetcher AreaFetcher) *Pipeline {
	t.Helper()
	log, _ := newLogger()
	return NewPipeline(src, store, fetcher, log, Options{SummaryCacheSize: 8})
}

func snapshot(t *testing.T, store *docstore.Store) map[docstore.Collection][]docstore.Document {
	t.Helper()
	out := make(map[docstore.Collection][]docstore.Document)
	for _, coll := range []docstore.Collection{docstore.Lines, docstore.Stops, docstore.Shapes} {
		docs, err := store.List(context.Background(), coll)
		require.NoError(t, err)
		out[coll] = docs
	}
	return out
}

func TestPipeline_FullRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	run, err := newPipeline(t, line100(), store, areas()).Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, docstore.RunSucceeded, run.Status)
	assert.Equal(t, []string{"lines", "stops", "shapes"}, run.Stages)
	assert.Equal(t, docstore.Counts{Upserted: 1}, run.Lines)
	assert.Equal(t, docstore.Counts{Upserted: 4}, run.Stops)
	assert.Equal(t, docstore.Counts{Upserted: 2}, run.Shapes)

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, docstore.RunSucceeded, last.Status)
	assert.False(t, last.FinishedAt.IsZero())
}

func TestPipeline_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := newPipeline(t, line100(), store, areas()).Run(ctx, nil)
	require.NoError(t, err)
	first := snapshot(t, store)

	run, err := newPipeline(t, line100(), store, areas()).Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, run.Lines.Deleted)
	assert.Zero(t, run.Stops.Deleted)
	assert.Zero(t, run.Shapes.Deleted)

	assert.Equal(t, first, snapshot(t, store))
}

func TestPipeline_StopsOnlyNeedsCommittedLines(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, line100(), store, areas())

	run, err := p.Run(ctx, []Stage{StageStops})
	require.ErrorIs(t, err, ErrLinesNotCommitted)
	assert.Equal(t, docstore.RunFailed, run.Status)
	assert.Empty(t, run.Stages)

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, docstore.RunFailed, last.Status)
	assert.Contains(t, last.Error, "line stage has not committed")
}

func TestPipeline_StopsOnlyReusesPreviousLines(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, line100(), store, areas())

	linesRun, err := p.Run(ctx, []Stage{StageLines})
	require.NoError(t, err)

	run, err := p.Run(ctx, []Stage{StageStops})
	require.NoError(t, err)
	assert.Equal(t, []string{"stops"}, run.Stages)
	assert.Equal(t, 4, run.Stops.Upserted)
	assert.NotEqual(t, linesRun.ID, run.ID)
}

func TestPipeline_StopsOnlyRefusesLinesLeftIncomplete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	clock := steppingClock()

	first := newPipeline(t, line100(), store, areas())
	first.now = clock
	_, err := first.Run(ctx, []Stage{StageLines})
	require.NoError(t, err)

	changed := line100()
	changed.routes[0].LongName = "Lisboa - Loures (via Sacavém)"
	changed.routes = append(changed.routes, source.Route{RouteID: "200_0", ShortName: "200"})
	second := newPipeline(t, brokenRoute{fakeSource: changed, routeID: "200_0"}, store, areas())
	second.now = clock
	broken, err := second.Run(ctx, []Stage{StageLines})
	require.ErrorIs(t, err, ErrSourceQuery)
	assert.Equal(t, []string{"lines"}, broken.Attempted)
	assert.Empty(t, broken.Stages)

	line, err := docstore.Load[models.Line](ctx, store, docstore.Lines, "100")
	require.NoError(t, err)
	assert.Equal(t, "Lisboa - Loures (via Sacavém)", line.LongName, "line 100 was rewritten before the failure")

	stopsOnly := newPipeline(t, line100(), store, areas())
	stopsOnly.now = clock
	run, err := stopsOnly.Run(ctx, []Stage{StageStops})
	require.ErrorIs(t, err, ErrLinesNotCommitted)
	assert.Equal(t, docstore.RunFailed, run.Status)
	assert.Contains(t, err.Error(), broken.ID)

	stops, err := store.List(ctx, docstore.Stops)
	require.NoError(t, err)
	assert.Empty(t, stops)

	// A complete line rebuild clears the way again
	_, err = first.Run(ctx, []Stage{StageLines})
	require.NoError(t, err)
	run, err = stopsOnly.Run(ctx, []Stage{StageStops})
	require.NoError(t, err)
	assert.Equal(t, docstore.RunSucceeded, run.Status)
}

func TestPipeline_FailureStopsLaterStages(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	src := line100()
	src.failOn = "Stops"

	run, err := newPipeline(t, src, store, areas()).Run(ctx, nil)
	require.ErrorIs(t, err, ErrSourceQuery)
	assert.Equal(t, docstore.RunFailed, run.Status)
	assert.Equal(t, []string{"lines"}, run.Stages)

	shapes, err := store.List(ctx, docstore.Shapes)
	require.NoError(t, err)
	assert.Empty(t, shapes, "shape stage never ran")

	ok, err := store.LastSuccessfulRun(ctx, "lines")
	require.NoError(t, err)
	assert.Nil(t, ok, "a failed run does not unlock later stop-only runs")
}

func TestPipeline_PrunesOldRuns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	log, _ := newLogger()

	p := NewPipeline(line100(), store, areas(), log, Options{RunRetention: 24 * time.Hour})
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	_, err := p.Run(ctx, []Stage{StageShapes})
	require.NoError(t, err)

	now = now.Add(48 * time.Hour)
	second, err := p.Run(ctx, []Stage{StageShapes})
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "the first run aged out")
	assert.Equal(t, second.ID, runs[0].ID)
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages(nil)
	require.NoError(t, err)
	assert.Equal(t, AllStages, stages)

	stages, err = ParseStages([]string{"shapes", "lines"})
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageLines, StageShapes}, stages, "execution order is fixed")

	_, err = ParseStages([]string{"routes"})
	assert.Error(t, err)
}
