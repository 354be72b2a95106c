package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mir00r/domain-router/internal/config"
	"github.com/mir00r/domain-router/internal/container"
	"github.com/mir00r/domain-router/pkg/logger"
	"github.com/spf13/cobra"
)

// resolveConfigPath returns the configuration file in use, if any
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("DR_CONFIG_FILE")
}

// bootstrap loads the configuration and wires the application
func bootstrap(configPath string) (*container.Container, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return container.NewContainer(cfg, log, container.Options{})
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var applyOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, resolveConfigPath(opts.configPath), applyOnStart)
		},
	}

	cmd.Flags().BoolVar(&applyOnStart, "apply", false, "Apply the stored records once the API is listening")
	return cmd
}

func runServe(ctx context.Context, configPath string, applyOnStart bool) error {
	app, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	cfg, log := app.GetConfiguration(), app.GetLogger()

	log.WithFields(map[string]interface{}{
		"version":        version,
		"store":          cfg.Store.Type,
		"haproxy_config": cfg.HAProxy.ConfigPath,
		"config_file":    configPath,
		"process":        processFields(),
	}).Info("Starting domain router")

	httpHandler, err := app.HTTPHandler(version)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         listenAddress(cfg.Server.Host, cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if configPath != "" {
		reloader := app.NewConfigReloadService(configPath)
		go func() {
			if err := reloader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Configuration watcher stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("address", server.Addr).Info("Starting admin HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if applyOnStart {
		if report, err := app.GetRoutingService().Apply(ctx); err != nil {
			log.WithError(err).Error("Initial apply failed")
		} else {
			log.WithFields(map[string]interface{}{
				"transaction_id": report.TransactionID,
				"unchanged":      report.Unchanged,
			}).Info("Initial apply completed")
		}
	}

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("admin HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down admin HTTP server")
		return err
	}

	log.Info("Domain router stopped gracefully")
	return nil
}
