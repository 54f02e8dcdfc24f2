// Package mockapi serves a fake LCBO-style store and inventory API for demos.
//
// Stock levels drift every 20-60 seconds so repeated refreshes show changing
// quantities. Both endpoints honour a ?callback= parameter and answer with
// JSONP when it is set.
package mockapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Stores is the fixture store list, a handful of downtown Toronto locations.
var Stores = []Store{
	{ID: 1, LcboID: 217, Name: "Queens Quay & Cooper", AddressLine1: "2 Cooper Street", City: "Toronto", Latitude: 43.6434, Longitude: -79.3712},
	{ID: 2, LcboID: 511, Name: "Union Station", AddressLine1: "65 Front Street West", City: "Toronto", Latitude: 43.6456, Longitude: -79.3806},
	{ID: 3, LcboID: 10, Name: "Summerhill", AddressLine1: "10 Scrivener Square", City: "Toronto", Latitude: 43.6832, Longitude: -79.3906},
	{ID: 4, LcboID: 115, Name: "Manulife Centre", AddressLine1: "55 Bloor Street West", City: "Toronto", Latitude: 43.6697, Longitude: -79.3888},
	{ID: 5, LcboID: 4, Name: "Spadina & Dundas", AddressLine1: "292 Dundas Street West", City: "Toronto", Latitude: 43.6536, Longitude: -79.3925},
	{ID: 6, LcboID: 626, Name: "Bay & Wellesley", AddressLine1: "900 Bay Street", City: "Toronto", Latitude: 43.6641, Longitude: -79.3868, IsDead: true},
}

// Store is the wire format of one store.
type Store struct {
	ID           int     `json:"id"`
	LcboID       int     `json:"lcbo_id"`
	Name         string  `json:"name"`
	AddressLine1 string  `json:"address_line_1"`
	City         string  `json:"city"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	IsDead       bool    `json:"is_dead"`
}

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

type level struct {
	quantity     int
	nextChangeAt time.Time
}

// API is the mock upstream.
type API struct {
	logger *slog.Logger
	delay  bool

	mu     sync.Mutex
	levels map[[2]int]*level
	rng    *rand.Rand
}

// New creates an [API]. When delay is true each response is held for
// 50-200ms to mimic a remote service.
func New(logger *slog.Logger, delay bool) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		logger: logger,
		delay:  delay,
		levels: make(map[[2]int]*level),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handler returns the API routes:
//
//	GET /stores
//	GET /stores/{store}/products/{product}/inventory
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/stores", a.handleStores)
	r.Get("/stores/{store}/products/{product}/inventory", a.handleInventory)
	return r
}

func (a *API) handleStores(w http.ResponseWriter, r *http.Request) {
	a.pause()
	a.write(w, r, Stores)
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	storeID, err1 := strconv.Atoi(chi.URLParam(r, "store"))
	productID, err2 := strconv.Atoi(chi.URLParam(r, "product"))
	if err1 != nil || err2 != nil || storeID <= 0 || productID <= 0 {
		http.Error(w, `{"error":"bad ids"}`, http.StatusBadRequest)
		return
	}
	a.pause()

	quantity := a.Quantity(storeID, productID)
	a.write(w, r, map[string]any{
		"status": 200,
		"result": map[string]int{
			"store_id":   storeID,
			"product_id": productID,
			"quantity":   quantity,
		},
	})
}

// Quantity returns the current stock of productID at storeID, moving it to a
// new value once its change time has passed.
func (a *API) Quantity(storeID, productID int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := [2]int{storeID, productID}
	lv, ok := a.levels[key]
	if !ok {
		lv = &level{quantity: a.rng.Intn(60), nextChangeAt: a.nextChange()}
		a.levels[key] = lv
	}
	if time.Now().After(lv.nextChangeAt) {
		old := lv.quantity
		lv.quantity = max(0, lv.quantity+a.rng.Intn(21)-10)
		lv.nextChangeAt = a.nextChange()
		a.logger.Info("stock change", "store_id", storeID, "product_id", productID, "from", old, "to", lv.quantity)
	}
	return lv.quantity
}

func (a *API) nextChange() time.Time {
	return time.Now().Add(time.Duration(20+a.rng.Intn(41)) * time.Second)
}

func (a *API) pause() {
	if !a.delay {
		return
	}
	a.mu.Lock()
	d := time.Duration(50+a.rng.Intn(150)) * time.Millisecond
	a.mu.Unlock()
	time.Sleep(d)
}

func (a *API) write(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("failed to encode response", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if cb := r.URL.Query().Get("callback"); cb != "" {
		if !callbackPattern.MatchString(cb) {
			http.Error(w, "invalid callback", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		if _, err := fmt.Fprintf(w, "%s(%s);", cb, body); err != nil {
			a.logger.Error("failed to write response", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}
