package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lit-platform/progression/internal/catalog"
	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/delivery"
	"github.com/lit-platform/progression/internal/graph"
	"github.com/lit-platform/progression/internal/ledger"
	"github.com/lit-platform/progression/internal/pathway"
	"github.com/lit-platform/progression/internal/platform/cache"
	"github.com/lit-platform/progression/internal/platform/config"
	"github.com/lit-platform/progression/internal/platform/database"
	"github.com/lit-platform/progression/internal/recommend"
	"github.com/lit-platform/progression/internal/report"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// The cache is an optimization; missing Redis degrades to regeneration
	// on every recommendation read.
	var recCache *recommend.RecommendationCache
	cacheClient, err := cache.New(ctx, cfg.Cache.URL)
	if err != nil {
		slog.Warn("cache unavailable, recommendations will not be cached", "error", err)
	} else {
		defer cacheClient.Close()
		recCache = recommend.NewRecommendationCache(cacheClient.Client)
	}

	catStore, err := catalog.NewPostgresStore(db.Pool)
	if err != nil {
		slog.Error("failed to create catalog store", "error", err)
		os.Exit(1)
	}
	ledgerStore, err := ledger.NewPostgresStore(db.Pool)
	if err != nil {
		slog.Error("failed to create ledger store", "error", err)
		os.Exit(1)
	}
	pathStore, err := pathway.NewPostgresStore(db.Pool)
	if err != nil {
		slog.Error("failed to create pathway store", "error", err)
		os.Exit(1)
	}
	masteryStore, err := recommend.NewPostgresMasteryStore(db.Pool)
	if err != nil {
		slog.Error("failed to create mastery store", "error", err)
		os.Exit(1)
	}
	events := ledger.NewPostgresEventLogger(db.Pool)

	topicGraph, cat, err := loadCurriculum(ctx, cfg.CurriculumPath, catStore, ledgerStore)
	if err != nil {
		slog.Error("failed to load curriculum", "error", err)
		os.Exit(1)
	}

	aggregator := recommend.NewAggregator(topicGraph, cat, ledgerStore, pathStore, masteryStore, recCache, recommend.Config{
		MasteryThreshold: cfg.Recommend.MasteryThreshold,
		BaseConfidence:   cfg.Recommend.Confidence,
		Horizon:          cfg.Recommend.Horizon(),
	})
	// Unit completions flow through the trigger so mastery and the
	// recommendation cache track the ledger.
	ledgerEvents := recommend.NewUnitCompletionTrigger(events, aggregator, cfg.Recommend.AppCode)
	ledgerSvc := ledger.NewService(ledgerStore, cat, ledgerEvents, ledger.Config{
		Grader:        ledger.Grader{Epsilon: cfg.Grading.NumericEpsilon},
		PartialCredit: cfg.Grading.PartialCredit,
	})
	pathEngine := pathway.NewEngine(pathStore, events)
	exporter := report.NewExporter(pathStore, ledgerSvc, masteryStore)

	gateway := delivery.NewGateway()
	wsChannel := delivery.NewWebSocketChannel()
	gateway.Register("websocket", wsChannel)
	handler := delivery.NewHandler(gateway, ledgerSvc, pathEngine, aggregator)
	if err := handler.Start(ctx); err != nil {
		slog.Error("failed to start delivery channels", "error", err)
		os.Exit(1)
	}
	defer gateway.StopAll()

	mux := newMux(wsChannel, exporter, func(ctx context.Context) error {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if cacheClient != nil {
			if err := cacheClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("cache: %w", err)
			}
		}
		return nil
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadCurriculum reads authored topic and unit files, builds the topic
// graph, and publishes units into the catalog.
func loadCurriculum(ctx context.Context, path string, store catalog.Store, progress catalog.ProgressReader) (*graph.Graph, *catalog.Catalog, error) {
	loader, err := curriculum.NewLoader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load curriculum from %s: %w", path, err)
	}

	topicGraph, err := graph.Build(loader.AllTopics(), loader.Edges())
	if err != nil {
		return nil, nil, fmt.Errorf("build topic graph: %w", err)
	}

	cat := catalog.New(store, progress)
	var published int
	for _, unit := range loader.AllUnits() {
		if err := cat.Publish(ctx, unit, loader.LevelsFor(unit.ID)); err != nil {
			slog.Warn("skipping unit", "unit_id", unit.ID, "error", err)
			continue
		}
		published++
	}
	slog.Info("curriculum loaded",
		"topics", len(loader.AllTopics()),
		"units", published,
	)
	return topicGraph, cat, nil
}

// newMux creates the HTTP router: health checks, the websocket session
// endpoint, and the progress report export.
func newMux(ws http.Handler, exporter *report.Exporter, ready func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(ready))
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /learners/{learner_id}/report.xlsx", handleReport(exporter))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				slog.Warn("readiness check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}

func handleReport(exporter *report.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID := r.PathValue("learner_id")
		appCode := r.URL.Query().Get("app_code")

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", learnerID+"-progress.xlsx"))
		if err := exporter.WriteLearnerWorkbook(r.Context(), learnerID, appCode, w); err != nil {
			slog.Error("export progress report", "learner_id", learnerID, "error", err)
			http.Error(w, "report generation failed", http.StatusInternalServerError)
		}
	}
}
