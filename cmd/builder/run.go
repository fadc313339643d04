package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdocs/schedule-builder/internal/build"
	"github.com/transitdocs/schedule-builder/internal/config"
	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/municipality"
	"github.com/transitdocs/schedule-builder/internal/source"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a build",
	Long: `Run the lines, stops and shapes stages in that order. With --stages a
subset runs; a stops-only build reuses the lines of the last successful run.
With --if-stale the build is skipped while the last complete build is younger
than REFRESH_HOURS. With --watch the command keeps running and rebuilds
whenever the documents go stale.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stageNames, _ := cmd.Flags().GetStringSlice("stages")
		ifStale, _ := cmd.Flags().GetBool("if-stale")
		watch, _ := cmd.Flags().GetBool("watch")
		checkEvery, _ := cmd.Flags().GetDuration("check-every")

		stages, err := build.ParseStages(stageNames)
		if err != nil {
			return err
		}
		if watch && checkEvery <= 0 {
			return fmt.Errorf("--check-every must be positive, got %s", checkEvery)
		}

		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		if err := cfg.ValidateBuilder(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		// ═══════════════════════════════════════════════════════
		// PHASE 1: Open Source and Document Store
		// ═══════════════════════════════════════════════════════
		src, err := source.Open(cfg.SourcePath)
		if err != nil {
			return err
		}
		defer src.Close()

		store, err := docstore.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		log.WithField("driver", cfg.DocStoreDriver).Info("document store ready")

		// ═══════════════════════════════════════════════════════
		// PHASE 2: Initialize Pipeline
		// ═══════════════════════════════════════════════════════
		areas := municipality.NewClient(cfg.MunicipalitiesURL, cfg.HTTPTimeout)
		pipeline := build.NewPipeline(src, store, areas, log, build.Options{
			SummaryCacheSize: cfg.SummaryCacheSize,
			RunRetention:     cfg.RunRetention(),
		})

		// ═══════════════════════════════════════════════════════
		// PHASE 3: Build
		// ═══════════════════════════════════════════════════════
		if !watch {
			return buildOnce(ctx, pipeline, store, stages, ifStale, cfg, log)
		}

		// ═══════════════════════════════════════════════════════
		// PHASE 4: Watch Loop
		// ═══════════════════════════════════════════════════════
		log.WithField("check_every", checkEvery).Info("watching for stale documents")
		if err := buildOnce(ctx, pipeline, store, stages, true, cfg, log); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("build failed, retrying at next check")
		}

		ticker := time.NewTicker(checkEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := buildOnce(ctx, pipeline, store, stages, true, cfg, log); err != nil && ctx.Err() == nil {
					log.WithError(err).Error("build failed, retrying at next check")
				}
			case <-ctx.Done():
				// ═══════════════════════════════════════════════════════
				// PHASE 5: Graceful Shutdown
				// ═══════════════════════════════════════════════════════
				log.Info("shutting down")
				return nil
			}
		}
	},
}

// buildOnce runs the pipeline, or skips it when ifStale is set and the last
// complete build is recent enough
func buildOnce(ctx context.Context, pipeline *build.Pipeline, store *docstore.Store, stages []build.Stage, ifStale bool, cfg *config.Config, log logrus.FieldLogger) error {
	if ifStale {
		stale, last, err := build.IsStale(ctx, store, cfg.RefreshInterval(), time.Now())
		if err != nil {
			return err
		}
		if !stale {
			log.WithFields(logrus.Fields{
				"run_id": last.ID,
				"age":    time.Since(last.StartedAt).Round(time.Second),
			}).Info("documents are fresh, skipping build")
			return nil
		}
	}

	_, err := pipeline.Run(ctx, stages)
	if errors.Is(err, context.Canceled) {
		log.Warn("build interrupted")
	}
	return err
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("stages", nil, "Stages to run (lines,stops,shapes); default all")
	runCmd.Flags().Bool("if-stale", false, "Skip the build while the last complete build is younger than REFRESH_HOURS")
	runCmd.Flags().Bool("watch", false, "Keep running and rebuild whenever the documents go stale")
	runCmd.Flags().Duration("check-every", time.Hour, "Staleness check interval in watch mode")
}
