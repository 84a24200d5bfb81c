package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yasadev/ani-mate/internal/allanime"
	"github.com/yasadev/ani-mate/internal/anilist"
	"github.com/yasadev/ani-mate/internal/config"
	"github.com/yasadev/ani-mate/internal/history"
	"github.com/yasadev/ani-mate/internal/jikan"
	"github.com/yasadev/ani-mate/internal/logger"
	"github.com/yasadev/ani-mate/internal/search"
	"github.com/yasadev/ani-mate/internal/server"
	"github.com/yasadev/ani-mate/internal/version"
)

func main() {
	if version.HasVersionArg() {
		version.ShowVersion()
		return
	}

	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}
	if cfg.Debug {
		logger.IsDebug = true
		logger.Init()
	}

	store, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		logger.Fatal("Failed to open history database", "error", err)
	}
	defer store.Close()

	catalog := allanime.NewClient(allanime.WithTimeout(cfg.CatalogTimeout))
	resolver := allanime.NewResolver(catalog, allanime.WithProviderTimeout(cfg.ProviderTimeout))
	meta := anilist.NewClient(anilist.WithTimeout(cfg.MetadataTimeout))
	fallback := jikan.NewClient()

	aggregator := search.New(catalog, meta, fallback, search.Options{
		SupplementalSearchCap: cfg.SupplementalSearchCap,
		CoverBatchLimit:       cfg.CoverBatchLimit,
		FranchiseMinSize:      cfg.FranchiseMinSize,
		CacheTTL:              cfg.CacheTTL,
		CacheFailTTL:          cfg.CacheFailTTL,
		AiringTTL:             cfg.AiringTTL,
	})

	srv := server.New(aggregator, catalog, resolver, store)
	httpServer := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server online at http://localhost:%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
}
