package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/errortracking"
	"github.com/bitechdev/TrackSpec/pkg/gqlclient"
	"github.com/bitechdev/TrackSpec/pkg/hub"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/relay"
	"github.com/bitechdev/TrackSpec/pkg/server"
	"github.com/bitechdev/TrackSpec/pkg/sink"
	"github.com/bitechdev/TrackSpec/pkg/store"
	"github.com/bitechdev/TrackSpec/pkg/upstream"
)

func main() {
	// Load configuration
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get configuration: %v", err)
	}

	// Initialize logger with configuration
	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	logger.Info("TrackSpec starting")

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}

	// Error tracking
	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		logger.Error("Failed to initialize error tracking: %v", err)
		os.Exit(1)
	}
	logger.InitErrorTracking(tracker)
	defer func() {
		if err := logger.CloseErrorTracking(); err != nil {
			logger.Warn("Failed to close error tracking: %v", err)
		}
	}()

	// Metrics
	if cfg.Metrics.Enabled && cfg.Metrics.Provider == "prometheus" {
		metrics.SetProvider(metrics.NewPrometheusProvider(cfg.Metrics.Namespace))
		logger.Info("Prometheus metrics enabled (namespace: %s)", cfg.Metrics.Namespace)
	}

	if cfg.Upstream.InsecureSkipVerify {
		logger.Warn("Upstream TLS certificate verification is DISABLED (upstream.insecure_skip_verify)")
	}

	ctx := context.Background()

	// Detection store
	st, err := store.NewStore(ctx, cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to open detection store: %v", err)
		os.Exit(1)
	}

	// Optional relay to an external broker
	detectionRelay, err := relay.NewRelayFromConfig(cfg.Relay)
	if err != nil {
		logger.Error("Failed to initialize relay: %v", err)
		os.Exit(1)
	}
	if detectionRelay != nil {
		logger.Info("Detection relay enabled (provider: %s)", cfg.Relay.Provider)
	}

	// Upstream plumbing: registry drives sessions, sessions feed the sink,
	// the sink persists and fans out through the observer hub.
	eventSink := sink.NewSink(st, nil, detectionRelay)
	registry := upstream.NewRegistry(cfg.Upstream, eventSink)
	observerHub := hub.NewHub(registry)
	eventSink.SetBroadcaster(observerHub)

	client := gqlclient.NewClient(cfg.Upstream)

	// HTTP surface
	router := mux.NewRouter()

	api := server.NewAPI(cfg, st, client, registry, detectionRelay)
	api.Routes(router)

	router.HandleFunc("/ws", observerHub.HandleWS)
	if cfg.Metrics.Enabled {
		router.Handle("/metrics", metrics.GetProvider().Handler()).Methods(http.MethodGet)
	}

	gs := server.NewGracefulServer(server.GracefulConfig{
		Addr:            cfg.Server.Addr,
		Handler:         router,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	})
	router.HandleFunc("/health", gs.HealthCheckHandler()).Methods(http.MethodGet)

	gs.RegisterShutdownCallback(func(ctx context.Context) error {
		logger.Info("Stopping upstream sessions...")
		registry.StopAll()
		observerHub.Shutdown()
		return nil
	})
	gs.RegisterShutdownCallback(func(ctx context.Context) error {
		if detectionRelay != nil {
			return detectionRelay.Close()
		}
		return nil
	})
	gs.RegisterShutdownCallback(func(ctx context.Context) error {
		return st.Close()
	})

	if err := gs.ListenAndServe(); err != nil {
		logger.Error("Server failed: %v", err)
		os.Exit(1)
	}
}
