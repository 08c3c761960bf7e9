package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/facegate/internal/config"
	"github.com/mattjoyce/facegate/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that configured workers can run on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				for _, e := range result.Errors {
					fmt.Fprintf(out, "ERROR   [%s] %s: %s\n", e.Category, e.Field, e.Message)
				}
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "WARNING [%s] %s: %s\n", w.Category, w.Field, w.Message)
				}
				if result.Valid {
					fmt.Fprintln(out, "OK")
				}
			}
			if !result.Valid {
				return fmt.Errorf("%d problem(s) found", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
