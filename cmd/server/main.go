package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ranked1v1/matchcore/config"
	"github.com/ranked1v1/matchcore/engine"
	"github.com/ranked1v1/matchcore/handlers"
	"github.com/ranked1v1/matchcore/metrics"
	"github.com/ranked1v1/matchcore/routes"
	"github.com/ranked1v1/matchcore/session"
	"github.com/ranked1v1/matchcore/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := store.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	ticketStore := store.NewPostgresStore(dbConn)
	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	matchEngine := engine.New(ticketStore, cfg.Compat, cfg.Threshold, cfg.MatchmakingTimeout, cfg.MatchmakingPollInterval).
		WithMetrics(appMetrics).
		WithLogger(logger)
	facade := session.New(ticketStore, matchEngine, cfg.KFactor)

	matchHandler := handlers.NewMatchHandler(facade, appMetrics, logger)
	router := routes.New(matchHandler)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("failed to create scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			reportQueueDepth(context.Background(), ticketStore, appMetrics, logger)
		}),
	)
	if err != nil {
		logger.Error("failed to schedule queue depth job", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("failed to shut down scheduler", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.MatchmakingTimeout + 30*time.Second, // streaming responses outlive a poll cycle
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}

// reportQueueDepth samples the waiting-ticket count per area and records
// it on the queue depth gauge. It is a read-only observational job; it
// never mutates ticket state, unlike the per-request engine poll loops.
func reportQueueDepth(ctx context.Context, s store.TicketStore, m *metrics.Metrics, logger *slog.Logger) {
	areas := knownAreas(ctx, s)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4) // bounded: stays well under the store's connection pool
	for _, area := range areas {
		area := area
		g.Go(func() error {
			waiting, err := s.ListWaiting(gctx, area, 0, 0)
			if err != nil {
				return fmt.Errorf("list waiting for area %s: %w", area, err)
			}
			m.QueueDepth.WithLabelValues(area).Set(float64(len(waiting)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("queue depth job failed", slog.Any("error", err))
	}
}

// knownAreas is a placeholder source of area tags to sample; a real
// deployment would read these from configuration or a distinct areas
// table. Tracked here rather than in the store so the store's interface
// stays free of anything beyond ticket/match/player CRUD.
func knownAreas(ctx context.Context, s store.TicketStore) []string {
	return []string{"na", "eu", "apac"}
}
