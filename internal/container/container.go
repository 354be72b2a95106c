// Package container wires the domain router together. It is the composition
// root: configuration goes in, and a routing service with its store, applier,
// system backend resolver, metrics and admin HTTP handler comes out.
package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/mir00r/domain-router/internal/config"
	"github.com/mir00r/domain-router/internal/handler"
	"github.com/mir00r/domain-router/internal/infrastructure"
	"github.com/mir00r/domain-router/internal/middleware"
	"github.com/mir00r/domain-router/internal/ports"
	"github.com/mir00r/domain-router/internal/repository"
	"github.com/mir00r/domain-router/internal/service"
	"github.com/mir00r/domain-router/pkg/logger"
)

// ========================================
// DEPENDENCY INJECTION CONTAINER
// ========================================

// Container holds the wired components of one domain router process
type Container struct {
	// Secondary adapters
	store    ports.RecordStore
	applier  ports.ConfigApplier
	resolver *infrastructure.StaticSystemBackendResolver

	// Application services
	routingService *service.RoutingService
	metrics        *service.Metrics

	logger *logger.Logger

	mutex  sync.RWMutex
	config *config.Config
}

// Options replace individual adapters, mostly for tests
type Options struct {
	// Runner executes the check and reload commands; nil runs real processes
	Runner infrastructure.CommandRunner
	// Store replaces the store selected by the configuration
	Store ports.RecordStore
}

// NewContainer wires every component from cfg
func NewContainer(cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	c := &Container{config: cfg, logger: log}
	if err := c.initializeInfrastructure(opts); err != nil {
		return nil, err
	}
	c.initializeApplicationServices()
	return c, nil
}

// ========================================
// INFRASTRUCTURE INITIALIZATION
// ========================================

func (c *Container) initializeInfrastructure(opts Options) error {
	store := opts.Store
	if store == nil {
		var err error
		if store, err = newStore(c.config, c.logger); err != nil {
			return err
		}
	}
	c.store = store

	runner := opts.Runner
	if runner == nil {
		runner = infrastructure.ExecRunner
	}
	applier, err := infrastructure.NewCommandApplier(infrastructure.CommandApplierConfig{
		ConfigPath:    c.config.HAProxy.ConfigPath,
		CheckCommand:  c.config.HAProxy.CheckCommand,
		ReloadCommand: c.config.HAProxy.ReloadCommand,
		Timeout:       c.config.HAProxy.ApplyTimeout,
	}, runner, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create config applier: %w", err)
	}
	c.applier = applier

	c.resolver = infrastructure.NewStaticSystemBackendResolver(c.config.SystemBackendAddresses())
	return nil
}

// newStore creates the record store selected by the configuration
func newStore(cfg *config.Config, log *logger.Logger) (ports.RecordStore, error) {
	switch cfg.Store.Type {
	case "memory":
		log.Warn("Using in-memory record store; records are lost on exit")
		return repository.NewInMemoryRecordRepository(), nil
	default:
		store, err := repository.NewFileRecordRepository(cfg.Store.Directory, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
		return store, nil
	}
}

// ========================================
// APPLICATION SERVICES INITIALIZATION
// ========================================

func (c *Container) initializeApplicationServices() {
	c.metrics = service.NewMetrics()
	c.routingService = service.NewRoutingService(
		c.store,
		c.applier,
		c.resolver,
		c.config.CompilerOptions(),
		c.metrics,
		c.logger,
	)
}

// ========================================
// PUBLIC INTERFACE METHODS
// ========================================

// GetRoutingService returns the routing service
func (c *Container) GetRoutingService() *service.RoutingService {
	return c.routingService
}

// GetRecordStore returns the record store
func (c *Container) GetRecordStore() ports.RecordStore {
	return c.store
}

// GetMetrics returns the service metrics
func (c *Container) GetMetrics() *service.Metrics {
	return c.metrics
}

// GetLogger returns the process logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetConfiguration returns the configuration currently in effect
func (c *Container) GetConfiguration() *config.Config {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.config
}

// ========================================
// HTTP SURFACE
// ========================================

// HTTPHandler builds the admin API with the middleware selected by the
// configuration
func (c *Container) HTTPHandler(version string) (http.Handler, error) {
	cfg := c.GetConfiguration()

	routerConfig := handler.RouterConfig{AdminPath: cfg.Admin.Path}
	if cfg.Admin.RateLimit.Enabled {
		routerConfig.RateLimiter = middleware.NewRateLimiter(cfg.Admin.RateLimit.RequestsPerSecond, cfg.Admin.RateLimit.BurstSize, c.logger)
	}
	if cfg.Admin.Auth.Enabled {
		auth, err := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
			Secret:    cfg.Admin.Auth.Secret,
			Issuer:    cfg.Admin.Auth.Issuer,
			SkipPaths: []string{"/health"},
		}, c.logger)
		if err != nil {
			return nil, err
		}
		routerConfig.Auth = auth
	}
	if cfg.Metrics.Enabled {
		routerConfig.Metrics = c.metrics.Handler()
		routerConfig.MetricsPath = cfg.Metrics.Path
	}

	health := handler.NewHealthHandler(version, func(ctx context.Context) error {
		_, err := c.store.List(ctx)
		return err
	})
	admin := handler.NewAdminHandler(c.routingService, c.logger)

	c.logger.WithFields(map[string]interface{}{
		"admin_path":    cfg.Admin.Path,
		"rate_limiting": cfg.Admin.RateLimit.Enabled,
		"token_auth":    cfg.Admin.Auth.Enabled,
		"metrics":       cfg.Metrics.Enabled,
	}).Info("Admin API configured")
	return handler.NewRouter(routerConfig, admin, health, c.logger), nil
}

// ========================================
// CONFIGURATION MANAGEMENT
// ========================================

// UpdateConfiguration applies the settings of cfg that can change at runtime:
// the log level, the system backend addresses and the compiler options.
// Everything else takes effect after a restart.
func (c *Container) UpdateConfiguration(cfg *config.Config) error {
	if err := c.logger.SetLevelString(cfg.Logging.Level); err != nil {
		return err
	}
	c.resolver.Update(cfg.SystemBackendAddresses())
	c.routingService.SetCompilerOptions(cfg.CompilerOptions())

	c.mutex.Lock()
	c.config = cfg
	c.mutex.Unlock()
	return nil
}

// NewConfigReloadService returns a watcher for path that feeds every valid
// new configuration into UpdateConfiguration
func (c *Container) NewConfigReloadService(path string) *service.ConfigReloadService {
	reloader := service.NewConfigReloadService(c.GetConfiguration(), path, c.metrics, c.logger)
	reloader.RegisterReloadCallback(c.UpdateConfiguration)
	return reloader
}
