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

	"taskmark/api/internal/app"
	"taskmark/api/internal/config"
	"taskmark/api/internal/export"
	"taskmark/api/internal/feed"
	"taskmark/api/internal/identity"
	"taskmark/api/internal/search"
	"taskmark/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	local, err := store.OpenLocal(cfg.LocalDBPath)
	if err != nil {
		log.Fatalf("local database failed: %v", err)
	}
	defer local.Close()

	var remote *store.RemoteStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.OpenRemoteDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("remote database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyRemoteMigrations(ctx, db); err != nil {
			log.Fatalf("remote migrations failed: %v", err)
		}
		remote = store.NewRemoteStore(db, cfg.RemoteTimeout)
	} else {
		log.Printf("DATABASE_URL not set, cloud mode disabled")
	}

	var changeFeed *feed.Feed
	if remote != nil && strings.TrimSpace(cfg.RedisURL) != "" {
		changeFeed, err = feed.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer changeFeed.Close()
	} else if remote != nil {
		log.Printf("REDIS_URL not set, cloud mode runs without push updates")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	ident := identity.ContextProvider{Fallback: cfg.DefaultOwner}

	// A nil *RemoteStore or *Feed must stay a nil interface inside the
	// service, hence the explicit branching.
	var service *app.Service
	switch {
	case remote != nil && changeFeed != nil:
		service = app.New(cfg, local, remote, changeFeed, ident)
	case remote != nil:
		service = app.New(cfg, local, remote, nil, ident)
	default:
		service = app.New(cfg, local, nil, nil, ident)
	}
	service.SetIndexer(searchService)
	defer service.Close()

	if err := service.Load(ctx); err != nil {
		log.Fatalf("load notes failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, export.NewService(), searchService, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Taskmark API listening on %s (mode=%s)", cfg.Addr, service.Mode())
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
