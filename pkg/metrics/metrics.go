// Package metrics holds the prometheus collectors for deployments and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/pipeline"
	"github.com/davidthor/vmprov/pkg/tracker"
)

const (
	namespace = "vmprov"

	LabelStatus     = "status"
	LabelStage      = "stage"
	LabelResult     = "result"
	LabelStatusCode = "code"
	LabelMethod     = "method"
	LabelPath       = "path"
)

var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30}

// Metrics is a set of collectors bound to one registry.
type Metrics struct {
	registry prometheus.Gatherer

	started     prometheus.Counter
	transitions *prometheus.CounterVec
	inFlight    prometheus.Gauge
	stages      *prometheus.HistogramVec

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      "deployments_started_total",
			Help:      "number of deployments started",
			Namespace: namespace,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "deployment_transitions_total",
			Help:      "number of deployment status transitions, partitioned by new status",
			Namespace: namespace,
		}, []string{LabelStatus}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "deployments_in_flight",
			Help:      "number of deployments not yet completed or failed",
			Namespace: namespace,
		}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "stage_duration_seconds",
			Help:      "duration of pipeline stages, partitioned by stage and result",
			Namespace: namespace,
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{LabelStage, LabelResult}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "requests_total",
			Help:      "How many HTTP requests processed, partitioned by status code, method and HTTP path.",
			Namespace: namespace,
		}, []string{LabelStatusCode, LabelMethod, LabelPath}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "request_duration_seconds",
			Help:      "How long it took to process the request, partitioned by status code, method and HTTP path.",
			Namespace: namespace,
			Buckets:   defaultBuckets,
		}, []string{LabelStatusCode, LabelMethod, LabelPath}),
	}

	reg.MustRegister(
		m.started,
		m.transitions,
		m.inFlight,
		m.stages,
		m.requests,
		m.latency,
		collectors.NewGoCollector(),
	)
	return m
}

// Observer returns a tracker observer counting transitions.
func (m *Metrics) Observer() tracker.Observer {
	return func(prev tracker.Status, rec tracker.Record) {
		m.transitions.With(prometheus.Labels{LabelStatus: string(rec.Status)}).Inc()

		switch {
		case prev == "":
			m.started.Inc()
			m.inFlight.Inc()
		case rec.Status.Terminal():
			m.inFlight.Dec()
		}
	}
}

// StageHook returns a pipeline hook recording stage durations.
func (m *Metrics) StageHook() pipeline.StageHook {
	return func(stage pipeline.Stage, elapsed time.Duration, outcome *iac.CommandOutcome) {
		result := "success"
		switch {
		case outcome.TimedOut():
			result = "timeout"
		case !outcome.Success:
			result = "failure"
		}
		m.stages.With(prometheus.Labels{
			LabelStage:  string(stage),
			LabelResult: result,
		}).Observe(elapsed.Seconds())
	}
}

// Middleware records request counts and latency. Paths are taken from the
// matched chi route pattern when one is available.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			LabelStatusCode: strconv.Itoa(status),
			LabelMethod:     r.Method,
			LabelPath:       routePattern(r),
		}
		m.requests.With(labels).Inc()
		m.latency.With(labels).Observe(time.Since(start).Seconds())
	}
	return http.HandlerFunc(fn)
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// routePattern joins the patterns of the matched routes, e.g.
// /api/deployment/{id}/status. Unmatched requests share a single label.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.RoutePatterns) == 0 {
		return "unmatched"
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.Replace(pattern, "/*/", "/", -1)
	return pattern
}
