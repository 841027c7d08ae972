package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/k-yomo/kagu-miru/pkg/health"
	"github.com/k-yomo/kagu-miru/pkg/middleware"
)

// RouterConfig holds the dependencies of the search service router.
type RouterConfig struct {
	Sessions *SessionHandler
	// Admin is nil when no local engine is configured.
	Admin          *AdminHandler
	Health         *health.Handler
	SuggestLimiter *middleware.RateLimiter
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates a chi router with all search service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing("search"))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("search"))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))

	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	h := cfg.Sessions
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(middleware.CacheControl(0))
		r.Use(ContentTypeJSON)

		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Close)
			r.Post("/actions", h.Dispatch)
			r.Post("/clicks", h.Click)
			r.Post("/suggestions/select", h.SelectSuggestion)
			r.With(suggestLimit(cfg.SuggestLimiter)).Get("/suggestions", h.Suggestions)
		})
	})

	if cfg.Admin != nil {
		r.Post("/api/v1/admin/reindex", cfg.Admin.Reindex)
	}

	return r
}

func suggestLimit(l *middleware.RateLimiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Handler
}
