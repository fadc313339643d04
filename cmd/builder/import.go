package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdocs/schedule-builder/internal/feed"
	"github.com/transitdocs/schedule-builder/internal/source"
)

var importCmd = &cobra.Command{
	Use:   "import <gtfs.zip>",
	Short: "Load a GTFS zip into the source database",
	Long: `Replace the GTFS tables of the source database (SOURCE_DATABASE) with
the contents of a GTFS static zip. The tables are created when missing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		data, err := feed.Parse(args[0], log.WithField("feed", args[0]))
		if err != nil {
			return err
		}

		src, err := source.Open(cfg.SourcePath)
		if err != nil {
			return err
		}
		defer src.Close()

		if err := src.EnsureSchema(ctx); err != nil {
			return err
		}

		counts, err := src.Import(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", args[0], err)
		}

		log.WithFields(logrus.Fields{
			"routes":         counts.Routes,
			"trips":          counts.Trips,
			"stops":          counts.Stops,
			"stop_times":     counts.StopTimes,
			"calendar_dates": counts.CalendarDates,
			"shapes":         counts.Shapes,
		}).Info("import complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
