package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	handle := func(pattern string, fn http.HandlerFunc) {
		chain := Chain(
			Recovery(h.logger),
			Metrics(pattern),
			Logging(h.logger),
		)
		mux.Handle(pattern, chain(fn))
	}

	// Inbound webhook
	handle("POST /api/v1/tenants/{tenant}/events", h.ReceiveEvent)

	// Flows
	handle("GET /api/v1/tenants/{tenant}/flows", h.ListFlows)
	handle("POST /api/v1/tenants/{tenant}/flows", h.CreateFlow)
	handle("GET /api/v1/flows/{id}", h.GetFlow)
	handle("PUT /api/v1/flows/{id}", h.UpdateFlow)
	handle("DELETE /api/v1/flows/{id}", h.DeleteFlow)
	handle("POST /api/v1/flows/validate", h.ValidateFlow)

	// Flow Versions
	handle("GET /api/v1/flows/{id}/versions", h.ListFlowVersions)
	handle("POST /api/v1/flows/{id}/versions", h.CreateFlowVersion)
	handle("GET /api/v1/flows/{id}/versions/{version}", h.GetFlowVersion)

	// Conversations
	handle("GET /api/v1/tenants/{tenant}/conversations/{user}", h.GetConversation)
	handle("DELETE /api/v1/tenants/{tenant}/conversations/{user}", h.ResetConversation)

	// Runs
	handle("GET /api/v1/tenants/{tenant}/runs", h.ListRuns)
	handle("GET /api/v1/runs/{id}", h.GetRun)
}
