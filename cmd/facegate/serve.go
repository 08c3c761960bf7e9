package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/facegate/internal/api"
	"github.com/mattjoyce/facegate/internal/config"
	"github.com/mattjoyce/facegate/internal/events"
	"github.com/mattjoyce/facegate/internal/invoke"
	"github.com/mattjoyce/facegate/internal/lock"
	"github.com/mattjoyce/facegate/internal/log"
	"github.com/mattjoyce/facegate/internal/session"
	"github.com/mattjoyce/facegate/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway, its supervised workers and the HTTP/WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("facegate starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.Acquire(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	reg, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		logger.Error("failed to open registry", "driver", cfg.Registry.Driver, "error", err)
		return err
	}
	defer reg.Close()
	logger.Info("registry opened", "driver", cfg.Registry.Driver)

	hub := events.NewHub(256)

	sup := supervisor.New(log.Get(), hub)
	for _, spec := range supervisorSpecs(cfg) {
		if err := sup.Start(ctx, spec); err != nil {
			sup.Stop()
			return fmt.Errorf("start worker %q: %w", spec.Name, err)
		}
	}
	logger.Info("supervisor started", "workers", len(cfg.Workers))

	specs := invokeSpecs(cfg)
	inv := invoke.New(specs, sup, log.Get())
	logger.Info("invocations configured", "kinds", sortedKinds(specs))

	sessions := session.NewManager(sessionConfig(cfg), inv, hub, log.Get())
	srv := api.New(apiConfig(cfg), api.Deps{
		Invoker:  inv,
		Registry: reg,
		Workers:  sup,
		Sessions: sessions,
		Events:   hub,
	}, log.Get())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sessions did not drain before shutdown timeout", "error", err)
		}
		sup.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("facegate stopped with error", "error", err)
		return err
	}
	logger.Info("facegate stopped")
	return nil
}
