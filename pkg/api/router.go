// Package api serves the deployment engine over HTTP.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/davidthor/vmprov/pkg/metrics"
	"github.com/davidthor/vmprov/pkg/pricing"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
	"github.com/davidthor/vmprov/pkg/tracker"
)

var (
	requestTimeout       = time.Second * 10
	maxBodyBytes   int64 = 1 << 20
)

// Deployments is the part of the engine the API needs.
type Deployments interface {
	StartDeployment(cfg *deployment.Config) string
	GetStatus(id string) (tracker.Record, error)
	ListDeployments() []tracker.Summary
	CountByStatus() map[tracker.Status]int
	Watch(ctx context.Context, id string) (<-chan tracker.Record, error)
}

type Config struct {
	Deployments Deployments
	Pricing     *pricing.Calculator
	Metrics     *metrics.Metrics
	MetricsPath string
	Logger      log.FieldLogger
}

func New(cfg Config) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Pricing == nil {
		cfg.Pricing = pricing.NewCalculator()
	}

	handler := &Handler{
		Deployments: cfg.Deployments,
		Pricing:     cfg.Pricing,
		Logger:      cfg.Logger,
	}

	// Base settings for all requests
	router := chi.NewRouter()
	router.Use(
		chi_middleware.RequestID,
		RequestLogger(cfg.Logger),
		chi_middleware.Recoverer,
		chi_middleware.StripSlashes,
	)
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware)
		if cfg.MetricsPath != "" {
			router.Get(cfg.MetricsPath, cfg.Metrics.Handler().ServeHTTP)
		}
	}

	router.Route("/api", func(r chi.Router) {
		// Streams outlive the request timeout.
		r.Get("/deployment/{id}/watch", handler.Watch)

		r.Group(func(r chi.Router) {
			r.Use(chi_middleware.Timeout(requestTimeout))

			r.Get("/health", handler.Health)
			r.Get("/deployments", handler.List)
			r.Get("/deployment/{id}/status", handler.Status)

			r.Group(func(r chi.Router) {
				r.Use(
					chi_middleware.AllowContentType("application/json"),
					LimitBody(maxBodyBytes),
				)
				r.Post("/deploy", handler.Deploy)
				r.Post("/validate-credentials", handler.ValidateCredentials)
				r.Post("/estimate-cost", handler.EstimateCost)
			})
		})
	})

	return router
}
