package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"github.com/ticketforge/ticket-registry/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(AccountMiddleware)
	if rl != nil {
		r.Use(RateLimitMiddleware(rl))
	}

	r.Group(func(r chi.Router) {
		r.Use(IdempotencyMiddleware)
		r.Post("/v1/tickets", h.Mint)
		r.Post("/v1/tickets/{id}/list", h.List)
		r.Post("/v1/tickets/{id}/cancel", h.Cancel)
		r.Post("/v1/tickets/{id}/buy", h.Buy)
		r.Post("/v1/tickets/{id}/validate", h.Validate)
		r.Post("/v1/admin/royalty", h.SetRoyalty)
		r.Post("/v1/admin/pause", h.Pause)
		r.Post("/v1/admin/unpause", h.Unpause)
		r.Post("/v1/admin/withdraw", h.Withdraw)
		r.Post("/v1/admin/roles/grant", h.GrantRole)
		r.Post("/v1/admin/roles/revoke", h.RevokeRole)
		r.Post("/v1/accounts/{account}/deposit", h.Deposit)
	})

	r.Delete("/v1/tickets/{id}", h.Burn)

	r.Get("/v1/tickets/{id}", h.GetTicket)
	r.Get("/v1/tickets/{id}/owner", h.GetOwner)
	r.Get("/v1/accounts/{account}/roles", h.GetRoles)
	r.Get("/v1/accounts/{account}/balance", h.GetBalance)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
