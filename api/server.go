/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for a back-office frontend

ROUTE GROUPS:
  /api/credit-notes/*    Credit note lifecycle
  /api/compensations/*   Ledger and batch apply
  /api/clients/*         Per-client aggregates
  /api/audit/*           Consistency checks
  /api/scenarios/*       Demo scenarios
  /healthz               Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public; run behind a
  gateway that authenticates operators.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Options tunes the router.
type Options struct {
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/credit-notes", func(r chi.Router) {
			r.Get("/", h.ListCreditNotes)
			r.Post("/", h.CreateCreditNote)
			r.Get("/{id}", h.GetCreditNote)
			r.Post("/{id}/apply", h.ApplyCreditNote)
			r.Post("/{id}/cancel", h.CancelCreditNote)
			r.Post("/{id}/refund", h.RefundCreditNote)
			r.Get("/{id}/compensations", h.GetCreditNoteCompensations)
		})

		r.Route("/compensations", func(r chi.Router) {
			r.Get("/", h.ListCompensations)
			r.Post("/batch", h.ApplyBatch)
		})

		r.Get("/clients/{id}/credit-balance", h.GetClientCreditBalance)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAudit)
			r.Get("/runs", h.ListAuditRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}
