/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/points/*      Accrual, redemption, refund
  /api/users/*       Per-user reads (balance, entries, expiring, referrals)
  /api/referrals/*   Codes, relationships, commissions
  /api/admin/*       Expiration sweep

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind
  a gateway that handles auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Points routes
		r.Route("/points", func(r chi.Router) {
			r.Post("/purchase", h.AccruePurchase)
			r.Post("/redeem", h.Redeem)
			r.Post("/refund", h.Refund)
			r.Post("/referral-reward", h.AccrueReferralReward)
		})

		// Per-user reads
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/entries", h.GetEntries)
			r.Get("/expiring", h.GetExpiring)
			r.Get("/referrals/stats", h.GetReferralStats)
			r.Get("/referrals/links", h.GetReferralLinks)
		})

		// Referral routes
		r.Route("/referrals", func(r chi.Router) {
			r.Post("/register", h.RegisterReferral)
			r.Post("/activate", h.ActivateReferral)
			r.Get("/resolve/{code}", h.ResolveCode)
			r.Post("/codes", h.IssueCode)
			r.Post("/commissions", h.RecordCommission)
			r.Post("/commissions/cancel", h.CancelCommission)
			r.Post("/settle", h.SettleCommissions)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
