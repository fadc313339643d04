package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/transitdocs/schedule-builder/internal/build"
	"github.com/transitdocs/schedule-builder/internal/docstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent build runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := docstore.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No builds recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tSTAGES\tLINES\tSTOPS\tSHAPES")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID,
				r.StartedAt.Local().Format(time.DateTime),
				duration(r),
				r.Status,
				strings.Join(r.Stages, ","),
				counts(r.Lines),
				counts(r.Stops),
				counts(r.Shapes),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if runs[0].Error != "" {
			fmt.Printf("\nLast error: %s\n", runs[0].Error)
		}

		stale, _, err := build.IsStale(ctx, store, cfg.RefreshInterval(), time.Now())
		if err != nil {
			return err
		}
		if stale {
			fmt.Println("\nDocuments are stale; the next --if-stale run will rebuild")
		}
		return nil
	},
}

func duration(r docstore.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func counts(c docstore.Counts) string {
	return fmt.Sprintf("+%d/-%d", c.Upserted, c.Deleted)
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")
}
