package api

import (
	"net/http"
)

// RegisterRoutes регистрирует служебные маршруты.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("GET /healthz", chain(http.HandlerFunc(h.Health)))
	if h.metrics != nil {
		mux.Handle("GET /metrics", chain(h.metrics))
	}
}
