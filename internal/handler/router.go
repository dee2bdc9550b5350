package handler

import (
	"net/http"

	"github.com/dandantas/stocksync/internal/service"
	"github.com/dandantas/stocksync/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	soapHandler   *SOAPHandler
	apiHandler    *APIHandler
	healthHandler *HealthHandler
	metrics       http.Handler
	recorder      middleware.RequestRecorder
	corsConfig    middleware.CORSConfig
}

// NewRouter wires every handler of svc
func NewRouter(svc *service.Service, version string, corsConfig middleware.CORSConfig) *Router {
	return &Router{
		soapHandler:   NewSOAPHandler(svc.Session),
		apiHandler:    NewAPIHandler(svc),
		healthHandler: NewHealthHandler(svc, version),
		metrics:       svc.Metrics.Handler(),
		recorder:      svc.Metrics,
		corsConfig:    corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Probes and scrape
	mux.HandleFunc("GET /health", rt.healthHandler.Health)
	mux.HandleFunc("GET /ready", rt.healthHandler.Ready)
	mux.Handle("GET /metrics", rt.metrics)

	// Web Connector
	mux.Handle("/qbwc", rt.soapHandler)

	// API endpoints
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/queue", rt.apiHandler.ListQueue)
	api.HandleFunc("POST /api/v1/queue/inventory-query", rt.apiHandler.EnqueueInventoryQuery)
	api.HandleFunc("POST /api/v1/queue/raw", rt.apiHandler.EnqueueRaw)
	api.HandleFunc("DELETE /api/v1/queue/current", rt.apiHandler.ClearCurrent)
	api.HandleFunc("POST /api/v1/sync/outbound/plan", rt.apiHandler.PlanOutbound)
	api.HandleFunc("POST /api/v1/sync/outbound/apply", rt.apiHandler.ApplyOutbound)
	api.HandleFunc("POST /api/v1/sync/inbound", rt.apiHandler.RunInbound)
	api.HandleFunc("GET /api/v1/pending", rt.apiHandler.ListPending)
	api.HandleFunc("DELETE /api/v1/pending/{sku}", rt.apiHandler.ClearPending)
	api.HandleFunc("GET /api/v1/tasks/{id}", rt.apiHandler.GetTask)
	api.HandleFunc("GET /api/v1/audit/{kind}", rt.apiHandler.GetAudit)
	mux.Handle("/api/", middleware.CORS(rt.corsConfig)(api))

	// CORS sits on the API only; recovery and logging cover everything
	var handler http.Handler = mux
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(rt.recorder)(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}
