package calendarapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/calsync/project/internal/app/storage"
	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
	"github.com/calsync/project/internal/platform/metrics"
	"github.com/calsync/project/services/frontend"
)

// LiveEndpoint is the WebSocket side of the server: it upgrades connections and knows
// how many clients are attached.
type LiveEndpoint interface {
	http.Handler
	OnlineUsers() int
}

type ReadyFunc func(ctx context.Context) error

type Handler struct {
	Service       *Service
	Live          LiveEndpoint
	RootPath      string
	AllowedOrigin string
	Ready         ReadyFunc
}

func NewHandler(service *Service, live LiveEndpoint, rootPath, allowedOrigin string) *Handler {
	return &Handler{
		Service:       service,
		Live:          live,
		RootPath:      normalizeRoot(rootPath),
		AllowedOrigin: allowedOrigin,
	}
}

func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	root = strings.TrimRight(root, "/")
	if root != "" && !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	return root
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", metrics.DefaultHandler())

	mount := func(api chi.Router) {
		api.Get("/", h.handleIndex)
		api.Handle("/static/*", http.StripPrefix(h.RootPath+"/static/", frontend.StaticHandler()))
		if h.Live != nil {
			api.Handle("/ws", h.Live)
		}
		api.Get("/api/health", h.handleHealth)
		api.Get("/api/events", h.handleListEvents)
		api.Get("/api/events.ics", h.handleExportICS)
		api.Post("/api/events", h.handleCreateEvent)
		api.Put("/api/events/{eventID}", h.handleUpdateEvent)
		api.Delete("/api/events/{eventID}", h.handleDeleteEvent)
	}
	if h.RootPath == "" {
		mount(r)
	} else {
		r.Route(h.RootPath, mount)
	}
	return r
}

type eventResponse struct {
	Event contracts.Event `json:"event"`
}

type eventsResponse struct {
	Events []contracts.Event `json:"events"`
}

type healthResponse struct {
	Status      string `json:"status"`
	OnlineUsers int    `json:"online_users"`
	Timestamp   string `json:"timestamp"`
	Timezone    string `json:"timezone"`
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.Service.List(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []contracts.Event{}
	}
	h.writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var draft contracts.Event
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	ev, err := h.Service.Create(r.Context(), "", draft)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, eventResponse{Event: ev})
}

func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var draft contracts.Event
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	draft.ID = chi.URLParam(r, "eventID")
	ev, err := h.Service.Update(r.Context(), "", draft)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, eventResponse{Event: ev})
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Service.Delete(r.Context(), "", chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "event deleted", "event_id": ev.ID})
}

func (h *Handler) handleExportICS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.Service.List(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(BuildICS(events, h.Service.Location, h.Service.Now())))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		OnlineUsers: h.onlineUsers(),
		Timestamp:   h.Service.Now().In(h.Service.Location).Format(time.RFC3339),
		Timezone:    h.Service.Location.String(),
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Service.Repo.Ping(ctx); err != nil {
		http.Error(w, "storage: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	if h.Ready != nil {
		if err := h.Ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	now := h.Service.Now().In(h.Service.Location)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, h.Service.Location)
	last := first.AddDate(0, 1, -1)
	events, err := h.Service.List(r.Context(), first.Format(contracts.DateLayout), last.Format(contracts.DateLayout))
	if err != nil {
		logging.Error("index events", err)
		events = nil
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	page := frontend.IndexPage(frontend.IndexData{
		RootPath:    h.RootPath,
		Month:       now.Format("January 2006"),
		Timezone:    h.Service.Location.String(),
		OnlineUsers: h.onlineUsers(),
		Events:      events,
	})
	templ.Handler(page).ServeHTTP(w, r)
}

func (h *Handler) onlineUsers() int {
	if h.Live == nil {
		return 0
	}
	return h.Live.OnlineUsers()
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrEventNotFound):
		h.writeError(w, http.StatusNotFound, "event not found")
	case IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("calendar request failed", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
