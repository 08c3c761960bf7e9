package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/facegate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, validate and lock the configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigShowCmd(), newConfigLockCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	source := cfg.SourcePath
	if source == "" {
		source = "(built-in defaults)"
	}
	fmt.Fprintf(w, "Configuration OK: %s\n", source)
	fmt.Fprintf(w, "  listen:   %s\n", cfg.API.Listen)
	fmt.Fprintf(w, "  registry: %s\n", cfg.Registry.Driver)
	fmt.Fprintf(w, "  sessions: ping %s, grace %s, chat %s\n",
		cfg.Sessions.PingInterval, cfg.Sessions.PongGrace, cfg.Sessions.ChatBusyPolicy)

	fmt.Fprintf(w, "  workers:  %d\n", len(cfg.Workers))
	for _, wk := range cfg.Workers {
		fmt.Fprintf(w, "    - %s (backoff %s)\n", wk.Name, wk.Backoff)
	}

	kinds := make([]string, 0, len(cfg.Invocations))
	for k := range cfg.Invocations {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "  invocations: %d\n", len(kinds))
	for _, k := range kinds {
		inv := cfg.Invocations[k]
		line := fmt.Sprintf("    - %s (timeout %s)", k, inv.Timeout)
		if inv.Requires != "" {
			line += " requires " + inv.Requires
		}
		fmt.Fprintln(w, line)
	}
}

func newConfigShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			// DSNs may carry credentials.
			redacted := *cfg
			if redacted.Registry.DSN != "" {
				redacted.Registry.DSN = "<redacted>"
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(redacted)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newConfigLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Record the BLAKE3 hash of the config file in .checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Discover(configPath)
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no config file found to lock (use --config)")
			}
			manifest, err := config.Lock(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked %s -> %s\n", path, config.ChecksumPath(path))
			for name, hash := range manifest.Hashes {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", hash, name)
			}
			return nil
		},
	}
}
