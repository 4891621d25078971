package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/auth"
	"github.com/M-ajor19/quillify/internal/dashboard"
	"github.com/M-ajor19/quillify/internal/handlers"
	"github.com/M-ajor19/quillify/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth       *auth.Handler
	Tokens     middleware.TokenValidator
	Generation *handlers.GenerationHandler
	Extraction *handlers.ExtractionHandler
	Payments   *handlers.PaymentsHandler
	Dashboard  *dashboard.Handler
	Health     *handlers.HealthHandler
	Metrics    prometheus.Gatherer
	Logger     *slog.Logger
}

// New returns an http.Handler that serves the API under /api.
func New(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(h.Logger))
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apperr.WriteHTTP(w, apperr.NotFound("not found"))
	})

	r.Get("/api/health", h.Health.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{}))
	}
	r.Post("/api/stripe/webhook", h.Payments.Webhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)
		r.Get("/packages", h.Payments.Packages)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(h.Tokens))

			r.Post("/generate", h.Generation.Generate)
			r.Get("/generations", h.Generation.History)
			r.Post("/extract", h.Extraction.Extract)
			r.Post("/checkout", h.Payments.CreateCheckout)
			r.Get("/account/me", h.Dashboard.GetMe)
			r.Get("/credit-ledger", h.Dashboard.ListCreditLedger)
		})
	})

	return r
}
