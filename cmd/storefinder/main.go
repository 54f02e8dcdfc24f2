// Command storefinder runs the store locator from a YAML config.
//
//	storefinder serve -c storefinder.yaml
//	storefinder validate -c storefinder.yaml
//	storefinder nearest -c storefinder.yaml --lat 43.6 --lng -79.4
//	storefinder stock -c storefinder.yaml --store 511 --product 18
//	storefinder version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Overridden with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "storefinder",
	Short: "Find the nearest store and check what it has in stock",
	Long: `storefinder locates the store closest to a user, pins it on a map and
looks up live inventory for the products the user ticks. Quantities reach the
page over Server-Sent Events or a WebSocket.

A minimal storefinder.yaml:

  port: 8080
  stores_url: https://lcboapi.com/stores
  inventory_url: "https://lcboapi.com/stores/{{.StoreID}}/products/{{.ProductID}}/inventory"
  headers:
    Authorization: Token ${LCBO_API_KEY}

Then run "storefinder serve -c storefinder.yaml" and open http://localhost:8080.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "storefinder %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
