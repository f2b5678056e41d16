package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/config"
	redisadapter "github.com/relaydesk/relaydesk/internal/adapters/redis"
	"github.com/relaydesk/relaydesk/internal/adapters/sweeper"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/execresolver"
	"github.com/relaydesk/relaydesk/internal/observability/statsd"
	"github.com/relaydesk/relaydesk/internal/service"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/transport"
	"github.com/relaydesk/relaydesk/internal/transport/bridge"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Workspaces *data.WorkspaceRepo
	Scheduled  *data.ScheduledMessageRepo
	Reports    *data.ReportRepo

	Mirror   *redisadapter.StatusMirror
	Resolver *execresolver.Resolver
	Sessions *session.Manager
	Pipeline *delivery.Pipeline
	Sweeper  *service.SweeperService
	Recur    *service.RecurringService
	Status   *service.StatusService

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// Factory overrides the production bridge transport, used by tests.
	Factory transport.Factory
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "relaydesk",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires the engine: repositories, status mirror, resolver,
// session manager, delivery pipeline, and the scheduler services.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil {
		return nil, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	var sink statsd.Sink
	if observability.MetricsSink != nil {
		sink = observability.MetricsSink
	}

	workspaces := data.NewWorkspaceRepo(deps.DB)
	scheduled := data.NewScheduledMessageRepo(deps.DB)
	reports := data.NewReportRepo(deps.DB)

	var mirror *redisadapter.StatusMirror
	if deps.RedisClient != nil {
		mirror = redisadapter.NewStatusMirror(deps.RedisClient)
	}

	resolver := execresolver.NewResolver(execresolver.ResolverOptions{
		Config: appCfg.Resolver,
		Logger: logger,
	})

	factory := deps.Factory
	if factory == nil {
		bridgeFactory, err := bridge.NewFactory(bridge.FactoryOptions{
			Config: appCfg.Bridge,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build bridge factory: %w", err)
		}
		factory = bridgeFactory
	}

	managerOpts := session.ManagerOptions{
		Registry: session.NewRegistry(),
		Resolver: resolver,
		Factory:  factory,
		Config:   appCfg.Session,
		Logger:   logger,
		Metrics:  sink,
	}
	if mirror != nil {
		managerOpts.Mirror = mirror
	}
	manager, err := session.NewManager(managerOpts)
	if err != nil {
		return nil, fmt.Errorf("build session manager: %w", err)
	}

	pipeline, err := delivery.NewPipeline(delivery.PipelineOptions{
		Sessions: manager,
		Reports:  reports,
		Config:   appCfg.Delivery,
		Logger:   logger,
		Metrics:  sink,
	})
	if err != nil {
		return nil, fmt.Errorf("build delivery pipeline: %w", err)
	}

	sweeperSvc, err := service.NewSweeperService(service.SweeperServiceOptions{
		Scheduled:  scheduled,
		Workspaces: workspaces,
		Pipeline:   pipeline,
		Config:     appCfg.Sweeper,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build sweeper service: %w", err)
	}

	recurSvc, err := service.NewRecurringService(service.RecurringServiceOptions{
		Workspaces: workspaces,
		Pipeline:   pipeline,
		Sessions:   manager,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build recurring service: %w", err)
	}
	manager.SetReadyHook(recurSvc.ReadyHook())

	statusSvc, err := service.NewStatusService(service.StatusServiceOptions{
		Sessions:   manager,
		Workspaces: workspaces,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build status service: %w", err)
	}

	return &ServiceContainer{
		Workspaces:    workspaces,
		Scheduled:     scheduled,
		Reports:       reports,
		Mirror:        mirror,
		Resolver:      resolver,
		Sessions:      manager,
		Pipeline:      pipeline,
		Sweeper:       sweeperSvc,
		Recur:         recurSvc,
		Status:        statusSvc,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSweeperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "scheduled message sweeper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Services == nil {
				return nil
			}
			var sink statsd.Sink
			if deps.cfg.Services.Observability.MetricsSink != nil {
				sink = deps.cfg.Services.Observability.MetricsSink
			}
			sweeperCfg := config.SweeperConfig{}
			if deps.cfg.Config != nil {
				sweeperCfg = deps.cfg.Config.Sweeper
			}
			runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
				Sweeper: deps.cfg.Services.Sweeper,
				Config:  sweeperCfg,
				Logger:  deps.logger,
				Metrics: sink,
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newSweeperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services == nil {
		return errors.New("service orchestration config missing services")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		services:    cfg.Services,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeHTTP,
		config.ServiceModeSweeper,
	}

	count := 0
	for _, mode := range modes {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	services    *ServiceContainer
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		// Create a timeout context for HTTP shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context:  shutdownCtx,
			Server:   cfg.httpServer,
			Services: cfg.services,
			Logger:   cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Stop recurring schedules and in-process sessions after the HTTP
	// surface stops accepting work.
	if cfg.services != nil {
		stopEngine(cfg.services, cfg.logger)
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// stopEngine tears down in-process engine state: armed cron entries and any
// live transport sessions.
func stopEngine(services *ServiceContainer, logger *slog.Logger) {
	if services.Recur != nil {
		select {
		case <-services.Recur.Stop().Done():
		case <-time.After(shutdownWaitTimeout):
			logger.Warn("timeout waiting for recurring schedules to stop")
		}
	}

	if services.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()
		services.Sessions.StopAll(ctx)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
