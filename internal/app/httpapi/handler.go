// Package httpapi exposes the read surface of the feed engine: current
// feeds, price history, movement statistics and the websocket stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/metrics"
	"github.com/meridianvest/marketfeed/internal/app/services/feeds"
	"github.com/meridianvest/marketfeed/internal/app/services/movement"
	"github.com/meridianvest/marketfeed/internal/app/storage"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

// defaultHistoryWindow bounds history queries with no explicit range.
const defaultHistoryWindow = 24 * time.Hour

type handler struct {
	feeds    *feeds.Service
	movement *movement.Service
	log      *logger.Logger
}

// NewHandler returns the API router. ws may be nil when the websocket
// stream is disabled.
func NewHandler(feedSvc *feeds.Service, movementSvc *movement.Service, ws http.Handler, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{feeds: feedSvc, movement: movementSvc, log: log}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/feeds", h.listFeeds)
		r.Get("/feeds/{symbol}", h.getFeed)
		r.Get("/feeds/{symbol}/history", h.getHistory)
		r.Get("/movements/{symbol}", h.getMovements)
	})
	if ws != nil {
		r.Handle("/ws", ws)
	}
	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "true"
	list, err := h.feeds.ListFeeds(r.Context(), activeOnly)
	if err != nil {
		h.log.WithError(err).Error("list feeds failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": list, "count": len(list)})
}

func (h *handler) getFeed(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	feed, err := h.feeds.GetFeed(r.Context(), symbol)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	now := time.Now().UTC()

	until, err := parseTimeParam(r, "until", now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	since, err := parseTimeParam(r, "since", until.Add(-defaultHistoryWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !since.Before(until) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("since must precede until"))
		return
	}

	points, err := h.feeds.History(r.Context(), symbol, since, until)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": strings.ToUpper(symbol),
		"since":  since,
		"until":  until,
		"points": points,
		"count":  len(points),
	})
}

func (h *handler) getMovements(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	day := market.Day(time.Now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw))
			return
		}
		day = market.Day(parsed)
	}

	stats, err := h.movement.Stats(r.Context(), symbol, day)
	if errors.Is(err, storage.ErrNotFound) {
		// A day with no recorded movements reads as all-zero counters.
		name := strings.ToUpper(symbol)
		if strings.EqualFold(symbol, market.GlobalSymbol) {
			name = market.GlobalSymbol
		}
		stats = market.MovementStats{Symbol: name, Date: day}
	} else if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q, want RFC3339", name, raw)
	}
	return t.UTC(), nil
}

func writeStoreError(w http.ResponseWriter, log *logger.Logger, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	log.WithError(err).Error("storage query failed")
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
