/**
 * @description
 * This file sets up the HTTP router for the payment-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions. The webhook route is deliberately outside
 * the auth group: signature verification is its only authentication.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jobforge/payment-service/pkg/middleware"
)

// NewRouter creates a new Chi router and registers the payment-service routes.
func NewRouter(h *Handler, webhookHandler *WebhookHandler, authTokenSecret string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-Owner-Ref"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment service is healthy"))
	})

	// Gateway-facing webhook; authenticated by signature only.
	r.Post("/stripe-webhook", webhookHandler.ServeHTTP)

	// Alert subscriptions are keyed by email, not by an authenticated owner.
	r.Post("/create-realtime-subscription", h.handleCreateRealtimeSubscription)

	// Owner-facing routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(authTokenSecret))

		r.Post("/create-payment-intent", h.handleCreatePaymentIntent)
		r.Post("/confirm-payment", h.handleConfirmPayment)
	})

	return r
}
