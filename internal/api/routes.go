package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Instrument(h.metrics),
		Logging(h.logger),
	)

	// Fleet
	mux.Handle("GET /api/v1/fleet/nodes", chain(http.HandlerFunc(h.ListNodes)))
	mux.Handle("GET /api/v1/fleet/deployment", chain(http.HandlerFunc(h.GetDeployment)))
	mux.Handle("GET /api/v1/fleet/deployments", chain(http.HandlerFunc(h.ListDeployments)))
	mux.Handle("POST /api/v1/fleet/deploy", chain(http.HandlerFunc(h.Deploy)))
	mux.Handle("GET /api/v1/fleet/health", chain(http.HandlerFunc(h.FleetHealth)))

	// Nodes
	mux.Handle("GET /api/v1/nodes/{id}", chain(http.HandlerFunc(h.GetNode)))
	mux.Handle("POST /api/v1/nodes/{id}/retry", chain(http.HandlerFunc(h.RetryNode)))
	mux.Handle("POST /api/v1/nodes/{id}/stop", chain(http.HandlerFunc(h.StopNode)))
	mux.Handle("GET /api/v1/nodes/{id}/reconciliation", chain(http.HandlerFunc(h.GetReconciliation)))

	// Events
	mux.Handle("GET /api/v1/events", chain(http.HandlerFunc(h.ListEvents)))
}
