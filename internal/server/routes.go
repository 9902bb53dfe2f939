package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "botmaster/internal/api/v1"
	"botmaster/internal/api/ws"
)

func registerAPIRoutes(api huma.API, store v1.DataStore, orchestrator v1.AgentOrchestrator) {
	v1.RegisterRequestRoutes(api, orchestrator)
	v1.RegisterSessionRoutes(api, orchestrator)
	v1.RegisterDecisionRoutes(api, store, orchestrator)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
	r.Get("/events", hub.ServeEvents)
}
