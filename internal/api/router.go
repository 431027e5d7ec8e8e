/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the API
 * endpoints, associates them with their handlers and applies middleware for
 * request logging, panic recovery, CORS, authentication and rate limiting.
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
	"github.com/transfa/transfer-service/internal/app"
)

// RouterConfig carries the cross-cutting settings of the transaction routes.
type RouterConfig struct {
	Auth                       AuthConfig
	RateLimiter                RateLimiter
	TransferRateLimitPerMinute int
	AllowedOrigins             []string
}

// TransactionRoutes creates and returns the router for the transaction endpoints.
func TransactionRoutes(h *TransactionHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.With(RateLimitMiddleware(cfg.RateLimiter, app.TransferRateLimitScope, cfg.TransferRateLimitPerMinute, time.Minute)).
			Post("/transfer", h.TransferHandler)
		r.Get("/account/{accountId}", h.GetAccountTransactionsHandler)
		r.Get("/{transactionId}", h.GetTransactionHandler)
	})

	return r
}
