package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/jpalmerr/storefinder/internal/inventory"
)

// levelRecord is the upstream inventory representation.
type levelRecord struct {
	StoreID   flexInt `json:"store_id"`
	ProductID flexInt `json:"product_id"`
	Quantity  flexInt `json:"quantity"`
}

// InventoryAPI fetches per-store product quantities. It implements
// [inventory.Fetcher].
type InventoryAPI struct {
	client *Client
	url    *template.Template
}

// NewInventoryAPI creates an [InventoryAPI]. urlTemplate is a text/template
// rendered with {{.StoreID}} and {{.ProductID}}, for example
// "https://lcboapi.com/stores/{{.StoreID}}/products/{{.ProductID}}/inventory".
func NewInventoryAPI(client *Client, urlTemplate string) (*InventoryAPI, error) {
	tmpl, err := ParseInventoryURL(urlTemplate)
	if err != nil {
		return nil, err
	}
	return &InventoryAPI{client: client, url: tmpl}, nil
}

// ParseInventoryURL parses and test-renders an inventory URL template.
func ParseInventoryURL(urlTemplate string) (*template.Template, error) {
	tmpl, err := template.New("inventory_url").Option("missingkey=error").Parse(urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing inventory URL template: %w", err)
	}
	if _, err := renderURL(tmpl, 1, 1); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func renderURL(tmpl *template.Template, storeID, productID int) (string, error) {
	var buf bytes.Buffer
	data := struct{ StoreID, ProductID int }{storeID, productID}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering inventory URL: %w", err)
	}
	return buf.String(), nil
}

// FetchInventory returns the quantity of productID at storeID.
//
// The body may be the level object itself or an object with it under
// "result". Missing ids in the response default to the requested ones.
func (a *InventoryAPI) FetchInventory(ctx context.Context, storeID, productID int) (inventory.Level, error) {
	url, err := renderURL(a.url, storeID, productID)
	if err != nil {
		return inventory.Level{}, err
	}

	body, err := a.client.Get(ctx, url)
	if err != nil {
		return inventory.Level{}, err
	}

	var envelope struct {
		Result *levelRecord `json:"result"`
		levelRecord
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return inventory.Level{}, fmt.Errorf("decoding inventory: %w", err)
	}

	rec := envelope.levelRecord
	if envelope.Result != nil {
		rec = *envelope.Result
	}

	level := inventory.Level{
		StoreID:   int(rec.StoreID),
		ProductID: int(rec.ProductID),
		Quantity:  int(rec.Quantity),
	}
	if level.StoreID == 0 {
		level.StoreID = storeID
	}
	if level.ProductID == 0 {
		level.ProductID = productID
	}
	return level, nil
}
