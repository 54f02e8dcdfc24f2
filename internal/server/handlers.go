package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/storefinder/geo"
	"github.com/jpalmerr/storefinder/internal/locator"
	"github.com/jpalmerr/storefinder/internal/session"
)

type ctxKey struct{}

// withSession resolves the {id} URL parameter into a session, responding 404
// for unknown ids.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxKey{}).(*session.Session)
}

// locationRequest is the body of locate and click requests. Error carries
// the reason when geolocation failed on the client.
type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Error     string   `json:"error,omitempty"`
}

func (l locationRequest) location() (geo.Location, error) {
	if l.Latitude == nil || l.Longitude == nil {
		return geo.Location{}, errors.New("latitude and longitude are required")
	}
	loc := geo.Location{Latitude: *l.Latitude, Longitude: *l.Longitude}
	if !loc.Valid() {
		return geo.Location{}, fmt.Errorf("invalid location %s", loc)
	}
	return loc, nil
}

// selectionResponse is a selection plus the two id accessors.
type selectionResponse struct {
	StoreID     int `json:"store_id"`
	LcboStoreID int `json:"lcbo_store_id"`
	locator.Selection
}

func newSelectionResponse(sel locator.Selection) selectionResponse {
	resp := selectionResponse{
		StoreID:     locator.NoSelection,
		LcboStoreID: locator.NoSelection,
		Selection:   sel,
	}
	if sel.Store != nil {
		resp.StoreID = sel.Store.ID
		resp.LcboStoreID = sel.Store.PartnerID
	}
	return resp
}

type refreshRequest struct {
	Checkboxes []session.CheckboxState `json:"checkboxes"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Create()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           sess.ID(),
		"idle_timeout": s.registry.IdleTimeout().String(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(sessionFrom(r).ID()); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := sessionFrom(r)

	var (
		sel locator.Selection
		err error
	)
	if req.Error != "" || (req.Latitude == nil && req.Longitude == nil) {
		reason := req.Error
		if reason == "" {
			reason = "unsupported"
		}
		sel, err = sess.LocateFailed(r.Context(), reason)
	} else {
		loc, locErr := req.location()
		if locErr != nil {
			writeError(w, http.StatusBadRequest, locErr.Error())
			return
		}
		sel, err = sess.Locate(r.Context(), loc)
	}

	s.writeSelection(w, sel, err)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, err := req.location()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sel, err := sessionFrom(r).Click(r.Context(), loc)
	s.writeSelection(w, sel, err)
}

func (s *Server) writeSelection(w http.ResponseWriter, sel locator.Selection, err error) {
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newSelectionResponse(sel))
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSelectionResponse(sessionFrom(r).Locator().Selection()))
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	zoom := 0
	if raw := r.URL.Query().Get("zoom"); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "zoom must be an integer")
			return
		}
		zoom = z
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).Locator().Markers(zoom))
}

func (s *Server) handleRefreshInventory(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cycle := sessionFrom(r).RefreshInventory(req.Checkboxes)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"generation": cycle.Generation(),
		"requested":  cycle.Requested(),
		"requests":   cycle.Requests(),
	})
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, sessionFrom(r).Board().GetAll())
}

func (s *Server) handleResetCells(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).Board().Reset()
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
