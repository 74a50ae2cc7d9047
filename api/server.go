/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog access log carrying the request ID
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the till frontend
  5. Authenticate (under /api): bearer token -> Identity

ROUTE GROUPS:
  /health            Liveness
  /api/products/*    Catalog
  /api/sales/*       Sales, voids, daily summary
  /api/stock/*       Adjustments, movements, alerts, audit
  /api/usage         Monthly usage counters

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification and roles
  - cmd/posd: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterConfig carries the settings NewRouter needs besides the handler.
type RouterConfig struct {
	JWTSecret      []byte
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	managers := RequireRole(RoleOwner, RoleManager)

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		// Catalog
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{id}", h.GetProduct)
			r.With(managers).Post("/", h.CreateProduct)
			r.With(managers).Put("/{id}", h.UpdateProduct)
			r.With(managers).Delete("/{id}", h.DeactivateProduct)
		})

		// Sales
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateSale)
			r.Get("/summary", h.GetDailySummary)
			r.Get("/{id}", h.GetSale)
			r.With(managers).Post("/{id}/void", h.VoidSale)
		})

		// Stock ledger
		r.Route("/stock", func(r chi.Router) {
			r.Get("/movements", h.ListMovements)
			r.Get("/alerts", h.GetLowStockAlerts)
			r.With(managers).Post("/adjustments", h.AdjustStock)
			r.With(managers).Get("/audit", h.AuditLedger)
		})

		r.Get("/usage", h.GetUsage)
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				event := log.Info()
				if status >= http.StatusInternalServerError {
					event = log.Error()
				}
				event.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
