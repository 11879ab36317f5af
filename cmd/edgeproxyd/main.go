// Command edgeproxyd is the edgeproxy data-plane entrypoint: it loads
// configuration, wires the routing/selection/forwarding core together with
// its ambient and domain stack, and runs until signaled to shut down.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeproxy/edgeproxy/internal/binding"
	"github.com/edgeproxy/edgeproxy/internal/connstats"
	"github.com/edgeproxy/edgeproxy/internal/discovery"
	"github.com/edgeproxy/edgeproxy/internal/forwarder"
	"github.com/edgeproxy/edgeproxy/internal/geo"
	"github.com/edgeproxy/edgeproxy/internal/proxy"
	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/internal/registry"
	"github.com/edgeproxy/edgeproxy/internal/routing"
	"github.com/edgeproxy/edgeproxy/pkg/apperror"
	"github.com/edgeproxy/edgeproxy/pkg/cache"
	"github.com/edgeproxy/edgeproxy/pkg/config"
	"github.com/edgeproxy/edgeproxy/pkg/database"
	"github.com/edgeproxy/edgeproxy/pkg/logger"
	"github.com/edgeproxy/edgeproxy/pkg/metrics"
)

// version is set at build time via -ldflags; left as a default for local
// builds and tests.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("error")
		logger.Fatal("failed to load config", "error", err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	popID := cfg.Proxy.PopID
	if popID == "" {
		if host, err := os.Hostname(); err == nil {
			popID = host
		} else {
			popID = uuid.NewString()
		}
	}

	localRegion := region.FromString(cfg.Proxy.LocalRegion)

	logger.Log.Info("edgeproxy starting",
		"version", version,
		"pop_id", popID,
		"local_region", string(localRegion),
		"listen_address", cfg.Listen.Address,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to registry database", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database); err != nil {
		logger.Fatal("failed to run registry migrations", "error", err)
	}

	routes := routing.NewContainer()
	reader := registry.NewReader(database.NewRegistryStore(db), routes, cfg.Proxy.RegistryReloadInterval, logger.Log)

	geoResolver := buildGeoResolver(cfg.Geo)

	stats := connstats.NewStore()
	bindings := binding.NewTable(cfg.Proxy.BindingTTL)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		m.SetServiceInfo(version)
		prometheus.MustRegister(
			metrics.NewRuntimeCollector(cfg.Metrics.Namespace, cfg.Metrics.Subsystem),
			metrics.NewStatsCollector(cfg.Metrics.Namespace, cfg.Metrics.Subsystem, stats, routes, bindings),
		)
	}

	proxySvc := proxy.New(routes, bindings, geoResolver, stats, localRegion, logger.Log, recorderOption(m)...)
	fwd := forwarder.New(cfg.Listen.Address, proxySvc, stats, cfg.Proxy.DialTimeout, cfg.Proxy.ShutdownGrace, logger.Log, forwarderRecorderOption(m)...)

	discoveryCache, registrar := buildDiscoveryRegistrar(cfg, popID, localRegion)

	go reader.Run(ctx)
	go bindings.Run(cfg.Proxy.BindingGCInterval, ctx.Done())
	if registrar != nil {
		go registrar.Run(ctx)
	}

	healthSrv := newHealthServer(cfg.Health.Address, routes, discoveryCache)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("aux http server failed", "error", err)
		}
	}()

	fwdErrCh := make(chan error, 1)
	go func() { fwdErrCh <- fwd.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Log.Info("shutdown signal received, draining connections")
	case err := <-fwdErrCh:
		if err != nil {
			logger.Fatal("forwarder failed to start", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownGrace+5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("aux http server shutdown error", "error", err)
	}

	<-fwdErrCh

	logger.Log.Info("edgeproxy stopped")
}

// recorderOption builds the proxy.Option slice conditionally, so the data
// plane never depends on Prometheus when metrics are disabled.
func recorderOption(m *metrics.Metrics) []proxy.Option {
	if m == nil {
		return nil
	}
	return []proxy.Option{proxy.WithRecorder(m)}
}

func forwarderRecorderOption(m *metrics.Metrics) []forwarder.Option {
	if m == nil {
		return nil
	}
	return []forwarder.Option{forwarder.WithRecorder(m)}
}

// buildGeoResolver opens the configured MaxMind database and wraps it with
// a memoizing cache. A missing or unreadable database is not fatal: the
// proxy simply treats every client as region-unknown, exactly as it would
// for any other geo-lookup miss.
func buildGeoResolver(cfg config.GeoConfig) geo.Resolver {
	if cfg.DatabasePath == "" {
		logger.Log.Warn("geo.database_path not set, all clients treated as region-unknown")
		return nil
	}

	mm, err := geo.OpenMaxMind(cfg.DatabasePath)
	if err != nil {
		logger.Log.Warn("failed to open geo database, all clients treated as region-unknown", "path", cfg.DatabasePath, "error", err)
		return nil
	}

	memCache, err := cache.New(cache.FromGeoConfig(cfg))
	if err != nil {
		logger.Log.Warn("failed to build geo cache, resolving without memoization", "error", err)
		return mm
	}

	return geo.NewCachedResolver(mm, memCache, cfg.CacheTTL)
}

// buildDiscoveryRegistrar wires the discovery heartbeat over a Redis-backed
// cache. A Redis connection failure is treated as non-fatal: discovery is
// purely observational and nothing in the core selection path depends on
// it, per internal/discovery's own doc comment. The cache is returned
// alongside the Registrar so /discovery can serve discovery.List reads off
// the same connection.
func buildDiscoveryRegistrar(cfg *config.Config, popID string, localRegion region.Code) (cache.Cache, *discovery.Registrar) {
	const heartbeatInterval = 10 * time.Second
	ttl := heartbeatInterval * 4

	redisCache, err := cache.New(cache.FromRedisConfig(cfg.Redis, ttl))
	if err != nil {
		logger.Log.Warn("discovery disabled: failed to connect to redis", "error", apperror.Wrap(err, apperror.CodeTransientRegistry, "connect discovery redis"))
		return nil, nil
	}

	registrar := discovery.New(redisCache, popID, localRegion, cfg.Listen.Address, heartbeatInterval, ttl, logger.Log)
	return redisCache, registrar
}

// newHealthServer builds the auxiliary HTTP listener serving /healthz,
// /readyz, /metrics, and (when Redis-backed discovery is enabled)
// /discovery. It is wired alongside, never inside, the core data-plane
// packages, per spec.
func newHealthServer(addr string, routes *routing.Container, discoveryCache cache.Cache) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if routes.Current().Version == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := routes.Current()
		for _, b := range snapshot.Backends {
			if b.Healthy {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", metrics.Handler())

	if discoveryCache != nil {
		mux.HandleFunc("/discovery", func(w http.ResponseWriter, r *http.Request) {
			records, err := discovery.List(r.Context(), discoveryCache)
			if err != nil {
				logger.Log.Error("discovery: failed to list live pops", "error", err)
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(records); err != nil {
				logger.Log.Error("discovery: failed to encode response", "error", err)
			}
		})
	}

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
