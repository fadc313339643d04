// Package build turns the relational GTFS tables into Line, Stop and Shape
// documents and reconciles the document store against each new batch.
package build

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitdocs/schedule-builder/internal/docstore"
)

// Stage names one assembler pass
type Stage string

const (
	StageLines  Stage = "lines"
	StageStops  Stage = "stops"
	StageShapes Stage = "shapes"
)

// AllStages in execution order
var AllStages = []Stage{StageLines, StageStops, StageShapes}

// ParseStages validates stage names and returns them in execution order,
// whatever order they were given in. An empty list means every stage.
func ParseStages(names []string) ([]Stage, error) {
	if len(names) == 0 {
		return AllStages, nil
	}
	requested := make(map[Stage]bool)
	for _, n := range names {
		s := Stage(n)
		if !slices.Contains(AllStages, s) {
			return nil, fmt.Errorf("unknown stage %q (want one of lines, stops, shapes)", n)
		}
		requested[s] = true
	}
	var out []Stage
	for _, s := range AllStages {
		if requested[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Pipeline runs the stages sequentially and records the run
type Pipeline struct {
	src       Source
	store     *docstore.Store
	areas     AreaFetcher
	log       logrus.FieldLogger
	cacheSize int
	retention time.Duration
	now       func() time.Time
}

// Options tune a Pipeline
type Options struct {
	SummaryCacheSize int
	RunRetention     time.Duration // zero keeps every run record
}

func NewPipeline(src Source, store *docstore.Store, areas AreaFetcher, log logrus.FieldLogger, opts Options) *Pipeline {
	return &Pipeline{
		src:       src,
		store:     store,
		areas:     areas,
		log:       log,
		cacheSize: opts.SummaryCacheSize,
		retention: opts.RunRetention,
		now:       time.Now,
	}
}

// Run executes stages in order Lines, Stops, Shapes and stops at the first
// failure. The returned run record is the one stored in build_runs.
func (p *Pipeline) Run(ctx context.Context, stages []Stage) (docstore.Run, error) {
	if len(stages) == 0 {
		stages = AllStages
	}

	run, err := p.store.StartRun(ctx, p.now())
	if err != nil {
		return docstore.Run{}, persistenceError(err, "start run")
	}
	log := p.log.WithField("run_id", run.ID)
	log.WithField("stages", stages).Info("build started")

	runErr := p.runStages(ctx, log, &run, stages)

	run.FinishedAt = p.now().UTC()
	if runErr != nil {
		run.Status = docstore.RunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = docstore.RunSucceeded
	}

	// Record the outcome even when ctx was cancelled mid-run
	recordCtx := context.WithoutCancel(ctx)
	if err := p.store.FinishRun(recordCtx, run); err != nil {
		log.WithError(err).Error("failed to record run outcome")
		if runErr == nil {
			runErr = persistenceError(err, "finish run")
		}
	}

	if runErr != nil {
		log.WithError(runErr).Error("build failed")
		return run, runErr
	}

	log.WithFields(logrus.Fields{
		"lines":   fmt.Sprintf("+%d/-%d", run.Lines.Upserted, run.Lines.Deleted),
		"stops":   fmt.Sprintf("+%d/-%d", run.Stops.Upserted, run.Stops.Deleted),
		"shapes":  fmt.Sprintf("+%d/-%d", run.Shapes.Upserted, run.Shapes.Deleted),
		"elapsed": run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	}).Info("build finished")

	if p.retention > 0 {
		pruned, err := p.store.PruneRuns(ctx, p.now(), p.retention)
		if err != nil {
			log.WithError(err).Warn("failed to prune old run records")
		} else if pruned > 0 {
			log.WithField("pruned", pruned).Info("pruned old run records")
		}
	}

	return run, nil
}

func (p *Pipeline) runStages(ctx context.Context, log logrus.FieldLogger, run *docstore.Run, stages []Stage) error {
	var (
		committed    LinesCommitted
		hasCommitted bool
	)

	for _, stage := range stages {
		run.Attempted = append(run.Attempted, string(stage))
		if err := p.store.SaveProgress(ctx, *run); err != nil {
			return fmt.Errorf("%s stage: %w", stage, persistenceError(err, "record stage start"))
		}

		var err error
		switch stage {
		case StageLines:
			committed, run.Lines, err = NewLineAssembler(p.src, p.store, p.areas, log).Run(ctx, run.ID)
			hasCommitted = err == nil

		case StageStops:
			if !hasCommitted {
				committed, err = p.previousLines(ctx, run.ID)
				if err != nil {
					return err
				}
				log.WithField("lines_run", committed.RunID()).Info("using lines from a previous run")
			}
			run.Stops, err = NewStopAssembler(p.src, p.store, p.cacheSize, log).Run(ctx, committed)

		case StageShapes:
			run.Shapes, err = NewShapeAssembler(p.src, p.store, log).Run(ctx)

		default:
			err = fmt.Errorf("unknown stage %q", stage)
		}
		if err != nil {
			return fmt.Errorf("%s stage: %w", stage, err)
		}
		run.Stages = append(run.Stages, string(stage))
	}
	return nil
}

// previousLines recovers the line barrier from the newest run that
// committed a line stage. A newer run that started lines without
// committing them left the collection partly rewritten, so there is no
// barrier until lines are rebuilt.
func (p *Pipeline) previousLines(ctx context.Context, currentRunID string) (LinesCommitted, error) {
	runs, err := p.store.RecentRuns(ctx, 100)
	if err != nil {
		return LinesCommitted{}, persistenceError(err, "read run history")
	}
	for _, run := range runs {
		if run.ID == currentRunID {
			continue
		}
		if run.Dirty(string(StageLines)) {
			return LinesCommitted{}, fmt.Errorf("%w: run %s left lines incomplete", ErrLinesNotCommitted, run.ID)
		}
		if committed, ok := committedFromRun(&run); ok {
			return committed, nil
		}
	}
	return LinesCommitted{}, ErrLinesNotCommitted
}
