package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"planboard/api/internal/app"
	"planboard/api/internal/authgate"
	"planboard/api/internal/board"
	"planboard/api/internal/boardlog"
	"planboard/api/internal/config"
	"planboard/api/internal/export"
	"planboard/api/internal/jira"
	"planboard/api/internal/planning"
	"planboard/api/internal/search"
	"planboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	planner := planning.NewReconciler(dataStore)
	gateway := jira.NewGateway()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	deps := app.Deps{
		Gateway:  gateway,
		Planner:  planner,
		DB:       dataStore,
		Searcher: searchService,
	}

	var sessions authgate.SessionStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for board state and sessions")
		stateStore, err := board.NewRedisStateStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer stateStore.Close()
		deps.States = stateStore
		sessions = authgate.NewRedisSessions(stateStore.Client())
	} else {
		log.Printf("No Redis configured; board state is memory-only")
	}
	deps.Gate = authgate.NewService(cfg.GatePasswordHash, cfg.TokenSecret, cfg.SessionTTL, sessions)

	if strings.TrimSpace(cfg.HistoryDir) != "" {
		audit := boardlog.New(cfg.HistoryDir)
		if err := audit.Ensure("planboard"); err != nil {
			log.Fatalf("history repo init failed: %v", err)
		}
		deps.Audit = audit
	}

	var uploader *export.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		uploader, err = export.NewUploader(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	}
	deps.Exporter = export.NewService(uploader)

	service := app.NewService(cfg, deps)
	if err := service.RestoreState(ctx); err != nil {
		log.Printf("WARNING: board state restore failed (starting empty): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Planboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
