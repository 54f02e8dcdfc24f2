package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/storefinder"
	"github.com/jpalmerr/storefinder/config"
	"github.com/jpalmerr/storefinder/geo"
)

var nearestCmd = &cobra.Command{
	Use:   "nearest",
	Short: "Print the store closest to a location",
	Long: `Fetch the store list and print the store closest to the given location.

Without --lat and --lng the configured default location is used.

Example:
  storefinder nearest -c config.yaml --lat 43.6532 --lng -79.3832`,
	RunE: runNearest,
}

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Print the live quantity of a product at a store",
	Long: `Query the inventory API once for a product at a store.

Example:
  storefinder stock -c config.yaml --store 511 --product 18`,
	RunE: runStock,
}

func init() {
	rootCmd.AddCommand(nearestCmd, stockCmd)

	nearestCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	nearestCmd.Flags().Float64("lat", 0, "latitude to search from")
	nearestCmd.Flags().Float64("lng", 0, "longitude to search from")
	_ = nearestCmd.MarkFlagRequired("config")
	nearestCmd.MarkFlagsRequiredTogether("lat", "lng")

	stockCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	stockCmd.Flags().Int("store", 0, "store id (required)")
	stockCmd.Flags().Int("product", 0, "product id (required)")
	_ = stockCmd.MarkFlagRequired("config")
	_ = stockCmd.MarkFlagRequired("store")
	_ = stockCmd.MarkFlagRequired("product")
}

// newFinder builds a Finder from the config file named by the --config flag.
func newFinder(cmd *cobra.Command) (*storefinder.Finder, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	opts := append(config.BuildOptions(cfg), storefinder.WithLogger(newLogger(cfg.Level())))
	f, err := storefinder.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storefinder: %w", err)
	}
	return f, nil
}

func runNearest(cmd *cobra.Command, args []string) error {
	f, err := newFinder(cmd)
	if err != nil {
		return err
	}

	loc := f.DefaultLocation()
	if cmd.Flags().Changed("lat") {
		loc.Latitude, _ = cmd.Flags().GetFloat64("lat")
		loc.Longitude, _ = cmd.Flags().GetFloat64("lng")
	}
	if !loc.Valid() {
		return fmt.Errorf("invalid location %s", loc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, ok, err := f.Nearest(ctx, loc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, "No stores found")
		return nil
	}

	fmt.Fprintf(out, "%s (#%d, LCBO #%d)\n", m.Store.Name, m.Store.ID, m.Store.PartnerID)
	fmt.Fprintf(out, "  Address:  %s, %s\n", m.Store.AddressLine1, m.Store.City)
	fmt.Fprintf(out, "  Location: %s\n", geo.Location{Latitude: m.Store.Latitude, Longitude: m.Store.Longitude})
	fmt.Fprintf(out, "  Distance: %s\n", m.Distance)
	return nil
}

func runStock(cmd *cobra.Command, args []string) error {
	f, err := newFinder(cmd)
	if err != nil {
		return err
	}

	storeID, _ := cmd.Flags().GetInt("store")
	productID, _ := cmd.Flags().GetInt("product")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stock, err := f.Stock(ctx, storeID, productID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Product %d at store %d: %d in stock\n",
		stock.ProductID, stock.StoreID, stock.Quantity)
	return nil
}
