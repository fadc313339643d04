package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transitdocs/schedule-builder/internal/api"
	"github.com/transitdocs/schedule-builder/internal/config"
	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file (env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.Setup(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := docstore.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open document store")
	}
	defer store.Close()
	log.WithField("driver", cfg.DocStoreDriver).Info("document store connection established")

	handler := api.NewHandler(store, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.Infof("API server starting on :%s", cfg.Port)
	log.Info("Endpoints:")
	log.Info("  GET /lines, /lines/{code}")
	log.Info("  GET /stops, /stops/{code}")
	log.Info("  GET /shapes/{code}")
	log.Info("  GET /health (with document store check)")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}
}
