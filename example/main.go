package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/storefinder"
	"github.com/jpalmerr/storefinder/example/mockapi"
)

func main() {
	// start the mock store API (see mockapi)
	go func() {
		if err := http.ListenAndServe(":9999", mockapi.New(nil, true).Handler()); err != nil {
			slog.Error("mock server error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	f, err := storefinder.New(
		storefinder.WithStoresURL("http://localhost:9999/stores"),
		storefinder.WithInventoryURL("http://localhost:9999/stores/{{.StoreID}}/products/{{.ProductID}}/inventory"),
		storefinder.WithPort(8080),
		storefinder.WithMaxConcurrency(4),
		storefinder.WithCachePath(os.TempDir()+"/storefinder-demo.db"),
		storefinder.WithInventoryCallback(func(u storefinder.InventoryUpdate) {
			if u.Applied {
				slog.Info("stock", "store_id", u.StoreID, "product_id", u.ProductID, "quantity", u.Quantity)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create storefinder", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Store Finder Demo")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println("  Mock API: 6 downtown Toronto stores on :9999, stock drifts every 20-60s")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := f.Start(ctx); err != nil {
		slog.Error("storefinder error", "error", err)
		os.Exit(1)
	}
}
