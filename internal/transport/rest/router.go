package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/auth"
	"github.com/schoolcore/fees-management/internal/fees"
	"github.com/schoolcore/fees-management/internal/reconcile"
	"github.com/schoolcore/fees-management/internal/reports"
	"github.com/schoolcore/fees-management/internal/transport/middleware"
	"github.com/schoolcore/fees-management/internal/transport/swagger"
)

type RouterDeps struct {
	DB              *sql.DB
	Verifier        *auth.Verifier
	FeesHandler     *fees.Handler
	ReportsHandler  *reports.Handler
	CallbackHandler *reconcile.CallbackHandler
	WebhookHandler  *reconcile.WebhookHandler
	AllowedOrigins  string
	Logger          *slog.Logger
}

// RegisterAllRoutes wires every HTTP surface onto the router. The gateway
// callback and webhook stay outside the auth group: the browser redirect
// carries no bearer token and the gateway signs its requests instead.
func RegisterAllRoutes(router *chi.Mux, deps RouterDeps) {
	healthHandler := NewHealthHandler(deps.DB)

	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID) // trace id for the context logger
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.RecoveryMiddleware(deps.Logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// gateway-facing: authenticated by signature, not by token
		if deps.CallbackHandler != nil {
			r.Post("/payments/callback", deps.CallbackHandler.HandleCallback)
		}
		if deps.WebhookHandler != nil {
			r.Post("/payments/webhook", deps.WebhookHandler.HandleWebhook)
		}

		if deps.Verifier == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(deps.Verifier.Middleware)

			if deps.FeesHandler != nil {
				pr.Post("/fees/payments", deps.FeesHandler.InitiatePayment)

				pr.Group(func(ar chi.Router) {
					ar.Use(auth.RequireRole(deps.Logger, internal.RoleAdmin))
					ar.Patch("/fees/transactions/{id}/refund", deps.FeesHandler.Refund)
				})
			}

			if deps.ReportsHandler != nil {
				pr.Get("/fees/transactions/mine", deps.ReportsHandler.List)
				pr.Get("/fees/transactions/{id}", deps.ReportsHandler.GetByID)

				pr.Group(func(sr chi.Router) {
					sr.Use(auth.RequireRole(deps.Logger, internal.RoleTeacher, internal.RoleAdmin))
					sr.Get("/fees/transactions", deps.ReportsHandler.List)
				})
			}
		})
	})
}
