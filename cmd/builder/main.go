package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdocs/schedule-builder/internal/config"
	"github.com/transitdocs/schedule-builder/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "builder",
	Short: "Build line, stop and shape documents from GTFS tables",
	Long: `builder reads the GTFS tables of the source database, assembles
denormalized line, stop and shape documents and reconciles the document
store so it holds exactly the latest build.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Optional YAML config file (env vars override it)")
}

// setup loads configuration and builds the process logger
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Setup(cfg), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
