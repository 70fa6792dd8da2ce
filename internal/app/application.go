// Package app wires the relay together and owns startup/shutdown order.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"classwatch/internal/api"
	"classwatch/internal/config"
	"classwatch/internal/database"
	"classwatch/internal/directory"
	"classwatch/internal/hub"
	"classwatch/internal/logger"
	"classwatch/internal/registry"
	"classwatch/internal/router"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
)

// Application owns every component. Initialization order is store → cache →
// directory client/matcher → registry → router → hub → handlers → HTTP.
type Application struct {
	config     *config.Config
	store      *database.Manager
	cache      *directory.Cache
	matcher    *directory.Matcher
	registry   *registry.Registry
	router     *router.Router
	hub        *hub.Hub
	httpServer *http.Server
	log        zerolog.Logger
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.Init(*cfg.Log); err != nil {
		return nil, fmt.Errorf("invalid log configuration: %w", err)
	}
	log := logger.WithComponent("app")

	var (
		store      *database.Manager
		deviceStore interfaces.DeviceStore
	)
	if cfg.Database.Path != "" {
		var err error
		store, err = database.NewManager(cfg.Database.Path, cfg.Database.Timeout, logger.WithComponent("database"))
		if err != nil {
			return nil, fmt.Errorf("failed to open device store: %w", err)
		}
		deviceStore = store
	}

	cache := directory.NewCache(cfg.Directory.CacheTTL, cfg.Directory.CacheSize)

	var matcher *directory.Matcher
	if cfg.Directory.BaseURL != "" {
		client := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Token,
			cfg.Directory.FetchTimeout, logger.WithComponent("directory"))
		matcher = directory.NewMatcher(client, cache, deviceStore,
			cfg.Directory.OrgUnitPath, logger.WithComponent("directory"))
	} else {
		log.Info().Msg("directory base URL not set, enrichment disabled")
	}

	reg := registry.NewRegistry()
	rtr := router.NewRouter(reg, logger.WithComponent("router"))

	var enrichHub *hub.Hub
	if matcher != nil {
		enrichHub = hub.NewHub(matcher, reg, rtr, logger.WithComponent("hub"))
		rtr.SetEnricher(enrichHub)
	}

	wsHandler := websocket.NewHandler(rtr, cfg.WebSocket, logger.WithComponent("websocket"))

	var deviceSource api.DeviceSource
	if matcher != nil {
		deviceSource = matcher
	}
	apiServer := api.NewServer(deviceSource, cache, deviceStore, reg, logger.WithComponent("api"))

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		cache:      cache,
		matcher:    matcher,
		registry:   reg,
		router:     rtr,
		hub:        enrichHub,
		httpServer: httpServer,
		log:        log,
	}, nil
}

// Start brings the relay up: enrichment hub first so identify envelopes can
// submit lookups, then cache warm-start, then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting classwatch relay")

	if app.hub != nil {
		if err := app.hub.Start(ctx); err != nil {
			return fmt.Errorf("failed to start enrichment hub: %w", err)
		}
	}

	app.warmCache(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopHub()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("classwatch relay started")
		return nil
	case <-ctx.Done():
		app.stopHub()
		return ctx.Err()
	}
}

// warmCache seeds single-device cache entries from snapshots persisted
// within the TTL window. The org-unit list key is never seeded: the store
// may hold a partial set and matching must only ever see complete lists.
func (app *Application) warmCache(ctx context.Context) {
	if app.store == nil || app.matcher == nil {
		return
	}

	since := time.Now().Add(-app.cache.TTL())
	records, err := app.store.ListDevicesSince(ctx, since)
	if err != nil {
		app.log.Warn().Err(err).Msg("cache warm-start failed")
		return
	}
	for _, record := range records {
		app.cache.SetDevice(record.DeviceID, record)
	}
	if len(records) > 0 {
		app.log.Info().Int("count", len(records)).Msg("directory cache warmed from snapshot store")
	}
}

// Stop shuts down in reverse order: HTTP listener, hub, store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down classwatch relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	app.stopHub()
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.log.Warn().Err(err).Msg("device store shutdown error")
		}
	}

	app.log.Info().Msg("classwatch relay shutdown complete")
	return nil
}

func (app *Application) stopHub() {
	if app.hub == nil {
		return
	}
	if err := app.hub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		app.log.Warn().Err(err).Msg("enrichment hub shutdown error")
	}
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
