package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-progress-engine/internal/aggregator"
	"campaign-progress-engine/internal/api"
	"campaign-progress-engine/internal/batch"
	"campaign-progress-engine/internal/config"
	"campaign-progress-engine/internal/engine"
	"campaign-progress-engine/internal/listener"
	"campaign-progress-engine/internal/progress"
	"campaign-progress-engine/internal/scheduler"
	"campaign-progress-engine/internal/storage"
)

const defaultRefreshEvery = time.Minute

type CatalogLoader interface {
	LoadActiveCampaigns(ctx context.Context) ([]engine.CampaignWithRules, error)
}

// Server keeps the in-memory campaign catalog in sync with the database.
type Server struct {
	store        CatalogLoader
	cache        *storage.Cache
	refreshEvery time.Duration
}

func New(store CatalogLoader, cache *storage.Cache) *Server {
	return &Server{store: store, cache: cache, refreshEvery: defaultRefreshEvery}
}

// Reload replaces the catalog. On error the previous catalog stays in place.
func (s *Server) Reload(ctx context.Context) error {
	campaigns, err := s.store.LoadActiveCampaigns(ctx)
	if err != nil {
		return err
	}
	s.cache.UpdateCampaigns(campaigns)
	log.Debug().Int("campaigns", len(campaigns)).Msg("campaign catalog refreshed")
	return nil
}

// StartCacheRefresher reloads the catalog now and then every refreshEvery
// until ctx is done.
func (s *Server) StartCacheRefresher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.refreshEvery)
		defer ticker.Stop()
		for {
			if err := s.Reload(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("refresh campaign catalog")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	snapshots, closeSnapshots := snapshotStore(rootCtx, cfg, store)
	defer closeSnapshots()

	// Catalog
	cache := storage.NewCache()
	srv := New(store, cache)
	srv.refreshEvery = cfg.CatalogRefresh()
	if err := srv.Reload(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("initial campaign catalog load")
	}
	srv.StartCacheRefresher(rootCtx)

	// Evaluation
	svc := progress.NewService(snapshots, cfg.CacheTTL())
	runner := batch.NewRunner(cache, store, aggregator.New(store), svc)

	// HTTP
	h := api.NewProgressHandler(runner, svc)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	go listener.ListenAndRefresh(rootCtx, store, listener.NewHandler(srv.Reload, svc), cfg.Listener.Channel, cfg.Backoff())

	// Sweeper
	if cfg.Sweeper.Enabled {
		if err := scheduler.NewSweepJob(svc, cfg.Sweeper.Every, cfg.SweepMaxAge()).Start(rootCtx); err != nil {
			log.Fatal().Err(err).Msg("start snapshot sweeper")
		}
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("cache_backend", cfg.Cache.Backend).Msg("http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = httpSrv.Shutdown(shCtx)
}

func snapshotStore(ctx context.Context, cfg config.Config, pg *storage.Store) (progress.SnapshotStore, func()) {
	if cfg.Cache.Backend != "redis" {
		return pg, func() {}
	}
	client, err := storage.ConnectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("init redis snapshot store")
	}
	return storage.NewRedisSnapshotStore(client, cfg.Redis.KeyPrefix), func() { _ = client.Close() }
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
