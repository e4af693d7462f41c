package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/zone"
)

func newZoneCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "zone <lat> <lon>",
		Short: "Classify a point against the service area",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("latitude: %w", err)
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("longitude: %w", err)
			}
			catalog, err := config.NewCatalogHolder(catalogPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(zone.NewClassifier(catalog).Classify(lat, lon))
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog file (embedded default when empty)")
	return cmd
}
