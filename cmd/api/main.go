package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"collabedit/api/internal/app"
	"collabedit/api/internal/config"
	"collabedit/api/internal/presence"
	"collabedit/api/internal/realtime"
	"collabedit/api/internal/store"
)

func main() {
	// .env is optional; real deployments supply the environment directly.
	_ = godotenv.Load()

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

	registry, err := presence.NewRegistry(cfg.RedisURL, presence.ParseMode(cfg.PresenceMode))
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer registry.Close()

	policies := realtime.Policies{
		EditPersistence:     realtime.ParseEditPersistence(cfg.EditPersistence),
		CleanupOnDisconnect: cfg.CleanupOnDisconnect,
	}
	hub := realtime.NewHub()
	gateway := realtime.NewGateway(hub, dataStore, registry, policies)

	service := app.New(cfg, dataStore, registry)
	httpServer := app.NewHTTPServer(service, gateway, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("collab editor API listening on %s (presence=%s, edits=%s)",
			cfg.Addr, registry.Mode(), policies.EditPersistence)
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
