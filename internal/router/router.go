package router

import (
	"net/http"

	"github.com/cx-tal-miterani/parking-session-system/internal/handlers"
	"github.com/cx-tal-miterani/parking-session-system/internal/middleware"
	"github.com/cx-tal-miterani/parking-session-system/internal/websocket"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the HTTP router; limit may be nil
func SetupRouter(h *handlers.Handler, hub *websocket.Hub, jwtSecret string, limit mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)
	r.Use(middleware.Metrics)

	// Occupancy is public per floor; everything under /api beyond it needs a caller
	public := r.PathPrefix("/api/structures").Subrouter()
	if limit != nil {
		public.Use(limit)
	}
	public.HandleFunc("/{structureId}/floors/{floorId}/spots", h.ListSpots).Methods(http.MethodGet, http.MethodOptions)
	public.HandleFunc("/{structureId}/floors/{floorId}/feed", hub.HandleFeed).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(jwtSecret))
	if limit != nil {
		api.Use(limit)
	}

	// Sessions
	api.HandleFunc("/sessions", h.RequestSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/start", h.StartSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/heartbeat", h.Heartbeat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/stop", h.StopSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/cancel", h.CancelSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/confirm", h.ConfirmPayment).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/estimate", h.EstimateCost).Methods(http.MethodGet, http.MethodOptions)

	// Ledger
	api.HandleFunc("/history", h.History).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/history/{recordId}/refunds", h.Refund).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
