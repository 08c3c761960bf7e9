package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattjoyce/facegate/internal/api"
	"github.com/mattjoyce/facegate/internal/config"
	"github.com/mattjoyce/facegate/internal/invoke"
	"github.com/mattjoyce/facegate/internal/protocol"
	"github.com/mattjoyce/facegate/internal/registry"
	"github.com/mattjoyce/facegate/internal/session"
	"github.com/mattjoyce/facegate/internal/supervisor"
	"github.com/mattjoyce/facegate/internal/worker"
)

func supervisorSpecs(cfg *config.Config) []supervisor.Spec {
	specs := make([]supervisor.Spec, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		spec := supervisor.Spec{
			Name:    w.Name,
			Command: worker.Command{Path: w.Command, Args: w.Args, Env: w.Env, Dir: w.Dir},
			Backoff: w.Backoff,
		}
		if b := w.CircuitBreaker; b != nil {
			spec.Breaker = supervisor.Breaker{Threshold: b.Threshold, Cooldown: b.Cooldown, StableAfter: b.StableAfter}
		}
		specs = append(specs, spec)
	}
	return specs
}

func invokeSpecs(cfg *config.Config) map[protocol.Kind]invoke.Spec {
	specs := make(map[protocol.Kind]invoke.Spec, len(cfg.Invocations))
	for kind, inv := range cfg.Invocations {
		specs[protocol.Kind(kind)] = invoke.Spec{
			Command:  worker.Command{Path: inv.Command, Args: inv.Args, Env: inv.Env, Dir: inv.Dir},
			Timeout:  inv.Timeout,
			Requires: inv.Requires,
		}
	}
	return specs
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		PingInterval: cfg.Sessions.PingInterval,
		PongGrace:    cfg.Sessions.PongGrace,
		SendBuffer:   cfg.Sessions.SendBuffer,
		MaxMessage:   cfg.API.MaxBodyBytes,
		ChatPolicy:   session.ChatPolicy(cfg.Sessions.ChatBusyPolicy),
	}
}

func apiConfig(cfg *config.Config) api.Config {
	return api.Config{
		Listen:       cfg.API.Listen,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig) (registry.Registry, error) {
	switch cfg.Driver {
	case "sqlite":
		return registry.OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return registry.OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

func sortedKinds(specs map[protocol.Kind]invoke.Spec) []string {
	kinds := make([]string, 0, len(specs))
	for k := range specs {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}
