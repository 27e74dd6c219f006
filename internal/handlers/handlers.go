package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"push-dispatcher/internal/models"
	"push-dispatcher/internal/store"
)

// maxBodyBytes caps request bodies; subscriptions are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Dispatcher runs one notification cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, overrides models.Overrides) (models.DispatchSummary, error)
}

type Handler struct {
	Store          store.SubscriptionStore
	Dispatcher     Dispatcher
	VAPIDPublicKey string
	Logger         *zap.Logger
}

func NewHandler(s store.SubscriptionStore, d Dispatcher, vapidPublicKey string, logger *zap.Logger) *Handler {
	return &Handler{
		Store:          s,
		Dispatcher:     d,
		VAPIDPublicKey: vapidPublicKey,
		Logger:         logger,
	}
}

// RouterOptions are the optional parts of the route table.
type RouterOptions struct {
	AllowedOrigins []string
	// StaticDir, when set, is served at the root.
	StaticDir string
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Routes returns the full HTTP surface wrapped in recovery, logging and CORS.
func (h *Handler) Routes(opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/subscribe", h.SubscribeHandler)
	mux.HandleFunc("POST /api/unsubscribe", h.UnsubscribeHandler)
	mux.HandleFunc("GET /api/vapid-public-key", h.VAPIDPublicKeyHandler)
	mux.HandleFunc("POST /api/send-daily-notification", h.SendDailyNotificationHandler)
	mux.HandleFunc("GET /healthz", h.HealthHandler)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if opts.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return Recover(h.Logger, LogRequests(h.Logger, CORS(opts.AllowedOrigins, mux)))
}

// HealthHandler reports whether the subscription store is reachable.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.Count(r.Context())
	if err != nil {
		h.Logger.Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subscriptions": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
