package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/facegate/internal/protocol"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable consulted during discovery.
const EnvConfigPath = "FACEGATE_CONFIG"

// Load reads, interpolates, defaults, integrity-checks and validates the
// config file at configPath.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	if err := VerifyChecksum(absPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Resolve discovers the config file and loads it. When no file is found the
// validated built-in defaults are returned.
func Resolve(flagPath string) (*Config, error) {
	path, err := Discover(flagPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Discover finds the config file by checking standard locations.
// Priority order: --config flag, $FACEGATE_CONFIG, ~/.config/facegate/config.yaml,
// /etc/facegate/config.yaml, ./config.yaml. Returns "" when none exists.
func Discover(flagPath string) (string, error) {
	if flagPath != "" {
		if !fileExists(flagPath) {
			return "", fmt.Errorf("config file not found: %s", flagPath)
		}
		return flagPath, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		if !fileExists(p) {
			return "", fmt.Errorf("$%s points to a missing file: %s", EnvConfigPath, p)
		}
		return p, nil
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "facegate", "config.yaml"))
	}
	candidates = append(candidates, "/etc/facegate/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", nil
}

// applyDefaults fills in every zero field from Defaults().
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaults.API.MaxBodyBytes
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = defaults.API.ReadTimeout
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = defaults.API.WriteTimeout
	}

	if cfg.Sessions.PingInterval == 0 {
		cfg.Sessions.PingInterval = defaults.Sessions.PingInterval
	}
	if cfg.Sessions.PongGrace == 0 {
		cfg.Sessions.PongGrace = defaults.Sessions.PongGrace
	}
	if cfg.Sessions.SendBuffer == 0 {
		cfg.Sessions.SendBuffer = defaults.Sessions.SendBuffer
	}
	if cfg.Sessions.ChatBusyPolicy == "" {
		cfg.Sessions.ChatBusyPolicy = defaults.Sessions.ChatBusyPolicy
	}

	if cfg.Registry.Driver == "" {
		cfg.Registry.Driver = defaults.Registry.Driver
	}
	if cfg.Registry.Driver == "sqlite" && cfg.Registry.Path == "" {
		cfg.Registry.Path = defaults.Registry.Path
	}

	// An absent workers key means the defaults; an explicit empty list means none.
	if cfg.Workers == nil {
		cfg.Workers = defaults.Workers
	}
	for i := range cfg.Workers {
		if cfg.Workers[i].Backoff == 0 {
			cfg.Workers[i].Backoff = 5 * time.Second
		}
	}

	if cfg.Invocations == nil {
		cfg.Invocations = make(map[string]InvocationConfig)
	}
	for kind, def := range defaults.Invocations {
		inv, ok := cfg.Invocations[kind]
		if !ok {
			cfg.Invocations[kind] = def
			continue
		}
		if inv.Timeout == 0 {
			inv.Timeout = def.Timeout
		}
		cfg.Invocations[kind] = inv
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api.max_body_bytes must be positive")
	}
	if cfg.API.ReadTimeout < 0 || cfg.API.WriteTimeout < 0 {
		return fmt.Errorf("api read/write timeouts must not be negative")
	}

	if cfg.Sessions.PingInterval < 0 || cfg.Sessions.PongGrace < 0 {
		return fmt.Errorf("sessions.ping_interval and sessions.pong_grace must not be negative")
	}
	if cfg.Sessions.SendBuffer < 0 {
		return fmt.Errorf("sessions.send_buffer must be positive")
	}
	switch cfg.Sessions.ChatBusyPolicy {
	case "drop", "replace":
	default:
		return fmt.Errorf("sessions.chat_busy_policy must be drop or replace (got %q)", cfg.Sessions.ChatBusyPolicy)
	}

	switch cfg.Registry.Driver {
	case "sqlite":
		if cfg.Registry.Path == "" {
			return fmt.Errorf("registry.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn is required for the postgres driver")
		}
		if err := unresolved("registry.dsn", cfg.Registry.DSN); err != nil {
			return err
		}
	default:
		return fmt.Errorf("registry.driver must be sqlite or postgres (got %q)", cfg.Registry.Driver)
	}

	workers := make(map[string]bool, len(cfg.Workers))
	for i, w := range cfg.Workers {
		if w.Name == "" {
			return fmt.Errorf("workers[%d].name is required", i)
		}
		if workers[w.Name] {
			return fmt.Errorf("workers[%d]: duplicate worker name %q", i, w.Name)
		}
		workers[w.Name] = true
		if w.Command == "" {
			return fmt.Errorf("worker %q: command is required", w.Name)
		}
		if w.Backoff < 0 {
			return fmt.Errorf("worker %q: backoff must not be negative", w.Name)
		}
		if b := w.CircuitBreaker; b != nil {
			if b.Threshold < 0 || b.Cooldown < 0 || b.StableAfter < 0 {
				return fmt.Errorf("worker %q: circuit_breaker values must not be negative", w.Name)
			}
			if b.Threshold > 0 && b.Cooldown == 0 {
				return fmt.Errorf("worker %q: circuit_breaker.cooldown is required when threshold is set", w.Name)
			}
		}
		for _, e := range w.Env {
			if err := unresolved(fmt.Sprintf("worker %q env", w.Name), e); err != nil {
				return err
			}
		}
	}

	kinds := make([]string, 0, len(cfg.Invocations))
	for k := range cfg.Invocations {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		inv := cfg.Invocations[k]
		if !protocol.Kind(k).Valid() {
			return fmt.Errorf("invocations: unknown kind %q", k)
		}
		if inv.Command == "" {
			return fmt.Errorf("invocation %q: command is required", k)
		}
		if inv.Timeout < 0 {
			return fmt.Errorf("invocation %q: timeout must not be negative", k)
		}
		if inv.Requires != "" && !workers[inv.Requires] {
			return fmt.Errorf("invocation %q: requires unknown worker %q", k, inv.Requires)
		}
	}

	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
