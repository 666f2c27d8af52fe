package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/clientdetail"
	"github.com/sells-group/fieldmap/internal/filter"
	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/playback"
	"github.com/sells-group/fieldmap/internal/reconcile"
	"github.com/sells-group/fieldmap/internal/resilience"
	"github.com/sells-group/fieldmap/internal/session"
)

// mapHandler exposes one session over HTTP.
type mapHandler struct {
	s   *session.Session
	now func() time.Time
}

// newRouter builds the serve router for s.
func newRouter(s *session.Session, origins []string) http.Handler {
	h := &mapHandler{s: s, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", h.handleStats)

	r.Route("/map", func(r chi.Router) {
		r.Get("/", h.handleGetMap)
		r.Delete("/", h.handleResetMap)
		r.Post("/load", h.handleLoad)
		r.Post("/reload", h.handleReload)
		r.Put("/visibility", h.handleVisibility)
	})

	r.Get("/zones/{zone}/top-products", h.handleZoneProducts)
	r.Get("/routes/{route}/top-products", h.handleRouteProducts)
	r.Get("/top-products/{scope}", h.handleLastProducts)

	r.Route("/playback", func(r chi.Router) {
		r.Get("/", h.handlePlaybackView)
		r.Delete("/", h.handlePlaybackClose)
		r.Post("/next", h.handlePlaybackNext)
		r.Post("/prev", h.handlePlaybackPrev)
		r.Put("/step/{step}", h.handlePlaybackGoTo)
		r.Post("/{route}", h.handlePlaybackOpen)
	})

	r.Get("/clients/{id}", h.handleClient)

	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.handleAgentPositions)
		r.Get("/roster", h.handleAgentRoster)
		r.Post("/refresh", h.handleAgentRefresh)
	})
	r.Get("/unvisited", h.handleUnvisited)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("serve: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoDataset), errors.Is(err, playback.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, resilience.ErrDataAbsent):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, resilience.ErrNetworkFailure), errors.Is(err, resilience.ErrFormatMismatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("serve: request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (h *mapHandler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Stats())
}

func (h *mapHandler) handleGetMap(w http.ResponseWriter, r *http.Request) {
	snap, err := h.s.Map.Snapshot()
	if err != nil {
		writeErr(w, err)
		return
	}
	if r.URL.Query().Get("sources") != "true" {
		snap.Sources = map[string]json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *mapHandler) handleResetMap(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Reset())
}

func (h *mapHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	var sel filter.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sel.Period == "" {
		sel.Period = filter.PeriodToday
	}
	if _, _, err := filter.Range(sel, h.now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.s.Load(r.Context(), sel)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *mapHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	stats, err := h.s.Reload(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *mapHandler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	vis := h.s.Visibility()
	if err := json.NewDecoder(r.Body).Decode(&vis); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stats := h.s.SetVisibility(r.Context(), vis)
	writeJSON(w, http.StatusOK, struct {
		Visibility reconcile.Visibility `json:"visibility"`
		Pass       reconcile.PassStats  `json:"pass"`
	}{vis, stats})
}

func (h *mapHandler) handleZoneProducts(w http.ResponseWriter, r *http.Request) {
	zone := strings.TrimSpace(chi.URLParam(r, "zone"))
	res, err := h.s.ZoneProducts(r.Context(), model.ID(zone), zone)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *mapHandler) handleRouteProducts(w http.ResponseWriter, r *http.Request) {
	res, err := h.s.RouteProducts(r.Context(), model.ID(chi.URLParam(r, "route")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *mapHandler) handleLastProducts(w http.ResponseWriter, r *http.Request) {
	res, ok := h.s.TopProducts(chi.URLParam(r, "scope"))
	if !ok {
		writeError(w, http.StatusNotFound, "no ranking published for scope")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *mapHandler) handlePlaybackView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Playback.View())
}

func (h *mapHandler) handlePlaybackClose(w http.ResponseWriter, _ *http.Request) {
	h.s.Playback.Close()
	writeJSON(w, http.StatusOK, h.s.Playback.View())
}

func (h *mapHandler) handlePlaybackOpen(w http.ResponseWriter, r *http.Request) {
	v, err := h.s.OpenRoute(r.Context(), model.ID(chi.URLParam(r, "route")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *mapHandler) handlePlaybackNext(w http.ResponseWriter, r *http.Request) {
	v, err := h.s.Playback.Next(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *mapHandler) handlePlaybackPrev(w http.ResponseWriter, _ *http.Request) {
	v, err := h.s.Playback.Prev()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *mapHandler) handlePlaybackGoTo(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "step must be an integer")
		return
	}
	v, err := h.s.Playback.GoTo(r.Context(), step)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *mapHandler) handleClient(w http.ResponseWriter, r *http.Request) {
	p, err := h.s.ClientDetail(r.Context(), model.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		clientdetail.Popup
		Lines []string `json:"lines"`
	}{p, p.Lines(format.Default())})
}

func (h *mapHandler) handleAgentPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.s.API.AgentPositions(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(positions), "rows": positions})
}

func (h *mapHandler) handleAgentRoster(w http.ResponseWriter, r *http.Request) {
	agents, err := h.s.API.Agents(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(agents), "vendedores": agents})
}

func (h *mapHandler) handleAgentRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.s.RefreshAgents(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshed"})
}

func (h *mapHandler) handleUnvisited(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clients, err := h.s.API.UnvisitedClients(r.Context(), api.UnvisitedQuery{
		From:    q.Get("fecha_inicio"),
		To:      q.Get("fecha_fin"),
		AgentID: q.Get("vendedor_id"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(clients), "clientes": clients})
}
