package main

import (
	"log"
	"os"
	"time"

	"github.com/mailaudit/mailaudit/internal/analyzer"
	"github.com/mailaudit/mailaudit/internal/api"
	"github.com/mailaudit/mailaudit/internal/config"
	"github.com/mailaudit/mailaudit/internal/engine"
	"github.com/mailaudit/mailaudit/internal/hub"
	"github.com/mailaudit/mailaudit/internal/model"
	"github.com/mailaudit/mailaudit/internal/ratelimit"
	"github.com/mailaudit/mailaudit/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("mailaudit: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"scripts_dir", cfg.ScriptsDir,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := analyzer.NewRegistry()
	for _, kind := range model.Kinds {
		registry.Register(kind, analyzer.NewScriptProber(kind, cfg.PythonBin, cfg.ScriptsDir))
	}
	logger.Info("analyzer probers registered", "kinds", registry.Kinds())

	events := hub.New()

	eng := engine.NewEngine(db, registry, events, logger, engine.Options{
		TimeoutS:      cfg.AnalyzerTimeoutS,
		MaxConcurrent: cfg.MaxConcurrentRuns,
	})

	limiter := ratelimit.New()
	defer limiter.Close()

	srv := api.NewServer(api.ServerConfig{
		Addr:          cfg.ListenAddr,
		RunRateLimit:  cfg.RunRateLimit,
		RunRateWindow: time.Duration(cfg.RunRateWindowS) * time.Second,
	}, db, eng, events, limiter, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Let in-flight runs record their outcome before the store closes.
	eng.Wait()
	logger.Info("mailaudit: stopped")
}
