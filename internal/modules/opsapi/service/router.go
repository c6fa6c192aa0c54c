package service

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// NewRouter wires the ops surface: probes at the root, the fleet API under
// /api/v1, prometheus at /metrics and the event stream at /api/v1/ws.
func NewRouter(h *Handlers, hub *Hub, reg *prometheus.Registry) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/livez", h.Livez).Methods("GET")
	router.HandleFunc("/readyz", h.Readyz).Methods("GET")
	router.HandleFunc("/healthz", h.Healthz).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/bots", h.ListBots).Methods("GET")
	api.HandleFunc("/bots/{id}/status", h.GetBotStatus).Methods("GET")
	api.HandleFunc("/bots/{id}/health-log", h.GetHealthLog).Methods("GET")
	api.HandleFunc("/fleet/summary", h.GetFleetSummary).Methods("GET")
	api.HandleFunc("/heartbeat", h.PostHeartbeat).Methods("POST")
	api.HandleFunc("/ws", hub.HandleWebSocket)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return corsMiddleware.Handler(router)
}
