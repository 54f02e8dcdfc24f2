package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/storefinder/config"
	"github.com/jpalmerr/storefinder/geo"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a storefinder configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields, including the inventory URL template.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  storefinder validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	loc := geo.DefaultLocation
	if cfg.DefaultLocation != nil {
		loc = cfg.DefaultLocation.Location()
	}
	cache := "disabled"
	if cfg.CachePath != "" {
		cache = cfg.CachePath
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:             %d\n", cfg.Port)
	fmt.Printf("  Stores URL:       %s\n", cfg.StoresURL)
	fmt.Printf("  Inventory URL:    %s\n", cfg.InventoryURL)
	fmt.Printf("  Max concurrency:  %d\n", cfg.MaxConcurrency)
	fmt.Printf("  Default location: %s\n", loc)
	fmt.Printf("  Cache:            %s\n", cache)

	return nil
}
