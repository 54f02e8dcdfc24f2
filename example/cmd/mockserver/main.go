// Standalone mock store API for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/storefinder serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jpalmerr/storefinder/example/mockapi"
)

func main() {
	fmt.Println("Mock store API starting on :9999")
	fmt.Println("  GET /stores")
	fmt.Println("  GET /stores/{store}/products/{product}/inventory")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := http.ListenAndServe(":9999", mockapi.New(logger, true).Handler()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
