/**
 * @description
 * This file sets up the HTTP router for the finance-service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * CORS, request logging, authentication and posting rate limits.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nfinance/finance-service/internal/domain"
)

// postingRateScope is the limiter bucket shared by every endpoint that moves money.
const postingRateScope = "posting"

// RouterConfig carries the cross-cutting settings the router needs.
type RouterConfig struct {
	Auth                      AuthConfig
	AllowedOrigins            []string
	RateLimiter               RateLimiter
	PostingRateLimitPerMinute int
}

// NewRouter creates and configures the HTTP router.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	limitPostings := RateLimitMiddleware(cfg.RateLimiter, postingRateScope, cfg.PostingRateLimitPerMinute, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.RegisterHandler)

		// Group routes that require authentication.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Auth))

			r.Get("/auth/profile", h.GetProfileHandler)
			r.Put("/auth/profile", h.UpdateProfileHandler)

			mountInstrumentRoutes(r, "/bankaccounts", h.Instruments(domain.KindBankAccount))
			mountInstrumentRoutes(r, "/creditcards", h.Instruments(domain.KindCreditCard))
			mountInstrumentRoutes(r, "/loans", h.Instruments(domain.KindLoan))
			r.With(limitPostings).Post("/creditcards/{id}/pay", h.PayCreditCardHandler)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactionsHandler)
				r.With(limitPostings).Post("/", h.CreateTransactionHandler)
				r.Get("/{id}", h.GetTransactionHandler)
				r.With(limitPostings).Put("/{id}", h.UpdateTransactionHandler)
				r.With(limitPostings).Delete("/{id}", h.DeleteTransactionHandler)
			})
		})
	})

	return r
}

func mountInstrumentRoutes(r chi.Router, prefix string, ih *InstrumentHandlers) {
	r.Get(prefix, ih.List)
	r.Post(prefix, ih.Create)
	r.Get(prefix+"/{id}", ih.Get)
	r.Put(prefix+"/{id}", ih.Update)
	r.Delete(prefix+"/{id}", ih.Delete)
}
