package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/storefinder/internal/locator"
)

// storeRecord is the upstream store representation.
type storeRecord struct {
	ID           flexInt `json:"id"`
	LcboID       flexInt `json:"lcbo_id"`
	Name         string  `json:"name"`
	AddressLine1 string  `json:"address_line_1"`
	City         string  `json:"city"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	IsDead       bool    `json:"is_dead"`
}

// StoreAPI fetches the store list. It implements [locator.StoreSource].
type StoreAPI struct {
	client *Client
	url    string
	logger *slog.Logger
}

// NewStoreAPI creates a [StoreAPI] reading from url.
func NewStoreAPI(client *Client, url string, logger *slog.Logger) *StoreAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreAPI{client: client, url: url, logger: logger}
}

// FetchStores returns the stores in the order the upstream lists them.
//
// The body may be a bare JSON array or an object with the array under
// "result".
func (a *StoreAPI) FetchStores(ctx context.Context) ([]locator.Store, error) {
	start := time.Now()

	body, err := a.client.Get(ctx, a.url)
	if err != nil {
		return nil, err
	}

	records, err := decodeStores(body)
	if err != nil {
		return nil, fmt.Errorf("decoding store list: %w", err)
	}

	stores := make([]locator.Store, 0, len(records))
	for _, r := range records {
		stores = append(stores, locator.Store{
			ID:           int(r.ID),
			PartnerID:    int(r.LcboID),
			Name:         r.Name,
			AddressLine1: r.AddressLine1,
			City:         r.City,
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
			IsDead:       r.IsDead,
		})
	}

	a.logger.Debug("store list fetched",
		"url", a.url,
		"store_count", len(stores),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return stores, nil
}

func decodeStores(body []byte) ([]storeRecord, error) {
	body = bytes.TrimLeft(body, " \t\r\n")
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	if body[0] == '[' {
		var records []storeRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var envelope struct {
		Result *[]storeRecord `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Result == nil {
		return nil, errors.New(`missing "result" array`)
	}
	return *envelope.Result, nil
}
