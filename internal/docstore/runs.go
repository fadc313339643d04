package docstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a build run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Counts tallies one collection's reconciliation
type Counts struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}

// Run is one build invocation as recorded in build_runs
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     RunStatus
	Attempted  []string // stages started, in execution order
	Stages     []string // stages that committed, in execution order
	Lines      Counts
	Stops      Counts
	Shapes     Counts
	Error      string
}

// Committed reports whether stage finished within this run
func (r Run) Committed(stage string) bool {
	return slices.Contains(r.Stages, stage)
}

// Dirty reports whether stage was started in this run but never committed,
// leaving its collection partly rewritten
func (r Run) Dirty(stage string) bool {
	return slices.Contains(r.Attempted, stage) && !r.Committed(stage)
}

// StartRun records a new running build and returns it
func (s *Store) StartRun(ctx context.Context, startedAt time.Time) (Run, error) {
	run := Run{
		ID:        uuid.New().String(),
		StartedAt: startedAt.UTC(),
		Status:    RunRunning,
	}
	if err := s.backend.InsertRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// SaveProgress stores the stages run has started so far
func (s *Store) SaveProgress(ctx context.Context, run Run) error {
	if err := s.backend.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record progress of run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final state of run
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if err := s.backend.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	runs, err := s.backend.RecentRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the most recent run of any status, or nil if none exist
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	runs, err := s.backend.RecentRuns(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// LastSuccessfulRun returns the most recent succeeded run that committed
// every one of stages (any succeeded run when none are given), or nil.
func (s *Store) LastSuccessfulRun(ctx context.Context, stages ...string) (*Run, error) {
	runs, err := s.backend.RecentRuns(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	for _, run := range runs {
		if run.Status != RunSucceeded {
			continue
		}
		if committedAll(run, stages) {
			return &run, nil
		}
	}
	return nil, nil
}

func committedAll(run Run, stages []string) bool {
	for _, stage := range stages {
		if !run.Committed(stage) {
			return false
		}
	}
	return true
}

// PruneRuns deletes finished runs older than retention
func (s *Store) PruneRuns(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	n, err := s.backend.PruneRuns(ctx, now.Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return n, nil
}

func joinStages(stages []string) string {
	return strings.Join(stages, ",")
}

func splitStages(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
