package build

import (
	"context"
	"time"

	"github.com/transitdocs/schedule-builder/internal/docstore"
)

// IsStale reports whether a new build is due: true when no run has ever
// completed every stage, or the last such run started more than maxAge
// before now.
// A zero maxAge always rebuilds.
func IsStale(ctx context.Context, store *docstore.Store, maxAge time.Duration, now time.Time) (bool, *docstore.Run, error) {
	last, err := store.LastSuccessfulRun(ctx, stageNames(AllStages)...)
	if err != nil {
		return false, nil, err
	}
	return isStaleOrMissing(last, maxAge, now), last, nil
}

func isStaleOrMissing(last *docstore.Run, maxAge time.Duration, now time.Time) bool {
	if last == nil || maxAge <= 0 {
		return true
	}
	return now.Sub(last.StartedAt) > maxAge
}

func stageNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return names
}
