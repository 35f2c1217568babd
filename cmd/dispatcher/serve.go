package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/handler"
	"github.com/mir00r/sip-dispatcher/internal/middleware"
	"github.com/mir00r/sip-dispatcher/internal/registrar"
	"github.com/mir00r/sip-dispatcher/internal/repository"
	"github.com/mir00r/sip-dispatcher/internal/service"
	"github.com/mir00r/sip-dispatcher/internal/sip"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"version":   version,
		"config":    configFile,
		"list_file": cfg.Dispatcher.ListFile,
		"pid":       os.Getpid(),
	}).Info("Starting SIP dispatcher")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetrics()

	// Created right after the dispatcher it watches, before any event fires
	var grpcHealth *service.HealthServer
	events := domain.EventHandlerFunc(func(ctx context.Context, ev domain.DestinationEvent) {
		log.DispatcherLogger().WithFields(map[string]interface{}{
			"route": ev.Route,
			"group": ev.Group,
			"uri":   ev.URI,
			"code":  ev.Code,
		}).Info("destination route event")
		if grpcHealth != nil {
			grpcHealth.HandleDestinationEvent(ctx, ev)
		}
	})

	opts, err := dispatcher.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid dispatcher options: %w", err)
	}
	ds := dispatcher.New(opts,
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(metrics),
		dispatcher.WithEventHandler(events),
		dispatcher.WithResolver(dispatcher.NewCachingResolver(nil, cfg.Dispatcher.DNSCacheTTL)),
	)
	if cfg.GRPC.Enabled {
		grpcHealth = service.NewHealthServer(ds, log)
	}

	source, err := repository.NewListSource(cfg.Dispatcher)
	if err != nil {
		return err
	}
	reload := func(ctx context.Context) (*dispatcher.LoadResult, error) {
		res, err := ds.Reload(ctx, source)
		if err != nil {
			log.ReloadLogger().WithError(err).Error("Destination list reload failed, keeping active sets")
			return nil, err
		}
		log.ReloadLogger().WithFields(map[string]interface{}{
			"sets":    res.Sets,
			"loaded":  res.Loaded,
			"skipped": res.Skipped,
		}).Info("Destination list loaded")
		if grpcHealth != nil {
			grpcHealth.Refresh()
		}
		return res, nil
	}
	if _, err := reload(ctx); err != nil && cfg.Dispatcher.StrictLoad {
		return fmt.Errorf("initial destination list load failed: %w", err)
	}

	// Admin edits only persist when the sets live in memory
	var store handler.RowStore
	if repo, ok := source.(*repository.InMemoryDestinationRepository); ok {
		store = repo
	}

	var reg *registrar.Registrar
	if cfg.Registrar.Enabled {
		reg = registrar.New(registrar.OptionsFromConfig(cfg.Registrar), cfg.Registrar.Domains,
			registrar.WithLogger(log),
			registrar.WithMetrics(metrics),
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	var checker *service.HealthChecker
	if cfg.ProbingMode() != domain.ProbeNone {
		prober, err := sip.NewOptionsProber(cfg.Probing, log)
		if err != nil {
			return err
		}
		defer prober.Close()

		checker = service.NewHealthChecker(service.HealthCheckConfig{
			Interval:  cfg.Probing.Interval,
			Timeout:   cfg.Probing.Timeout,
			RateLimit: cfg.Probing.RateLimit,
			Burst:     cfg.Probing.Burst,
			Defaults: dispatcher.ProbeDefaults{
				Method:        cfg.Probing.Method,
				From:          cfg.Probing.From,
				Socket:        cfg.Probing.DefaultSocket,
				OutboundProxy: cfg.Probing.OutboundProxy,
			},
		}, ds, prober, log)
		if err := checker.Start(gctx); err != nil {
			return err
		}
	}

	if cfg.Dispatcher.WatchList && cfg.Dispatcher.ListFile != "" {
		watcher := service.NewListWatcher(cfg.Dispatcher.ListFile, func(ctx context.Context) error {
			_, err := reload(ctx)
			return err
		}, 0, log)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	maintenance, err := service.NewMaintenance(maintenanceConfig(cfg), ds, reg, log)
	if err != nil {
		return err
	}
	maintenance.Start()

	if grpcHealth != nil {
		g.Go(func() error { return grpcHealth.Serve(cfg.GRPC.Address) })
	}

	var server *http.Server
	if cfg.Admin.Enabled {
		server = newAdminServer(cfg, ds, reg, reload, store, metrics, log)
		lis, err := net.Listen("tcp", cfg.Admin.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Admin.Address, err)
		}
		if cfg.Admin.MaxConnections > 0 {
			lis = netutil.LimitListener(lis, cfg.Admin.MaxConnections)
		}
		log.WithField("address", cfg.Admin.Address).Info("Admin API listening")
		g.Go(func() error {
			if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	log.WithFields(map[string]interface{}{
		"sets":      ds.Tree().Len(),
		"probing":   cfg.Probing.Mode,
		"registrar": cfg.Registrar.Enabled,
		"grpc":      cfg.GRPC.Enabled,
		"jobs":      maintenance.Jobs(),
	}).Info("SIP dispatcher started")

	<-gctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error shutting down admin API")
		}
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if checker != nil {
		if err := checker.Stop(); err != nil {
			log.WithError(err).Error("Error stopping health checker")
		}
	}
	maintenance.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("SIP dispatcher stopped gracefully")
	return nil
}

func maintenanceConfig(cfg *config.Config) service.MaintenanceConfig {
	mc := service.MaintenanceConfig{
		LoadExpiry:     cfg.CallLoad.CheckInterval,
		RegistrarSweep: cfg.Registrar.SweepInterval,
	}
	if cfg.DNSMode() == domain.DNSResolveTimer {
		mc.DNSRefresh = cfg.Dispatcher.DNSRefreshInterval
	}
	return mc
}

func newAdminServer(cfg *config.Config, ds *dispatcher.Dispatcher, reg *registrar.Registrar,
	reload handler.Reloader, store handler.RowStore, metrics *service.Metrics, log *logger.Logger) *http.Server {
	deps := handler.Deps{
		Dispatcher: ds,
		Registrar:  reg,
		Reload:     reload,
		Store:      store,
		Config:     cfg,
		Auth:       middleware.NewJWTAuth(cfg.Admin.JWTSecret, log),
		Logger:     log,
		Version:    version,
	}
	if cfg.Admin.RateLimit > 0 {
		deps.Limiter = middleware.NewRateLimiter(cfg.Admin.RateLimit, cfg.Admin.Burst, log)
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	if !deps.Auth.Enabled() {
		log.Warn("No admin JWT secret configured, mutating admin routes are open")
	}

	return &http.Server{
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
