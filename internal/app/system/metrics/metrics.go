// internal/app/system/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors on a private registry.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	distributions prometheus.Counter
	grants        prometheus.Counter
	resolutions   *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "institutehub_membership_transitions_total",
			Help: "Membership transition attempts by transition and outcome",
		}, []string{"transition", "outcome"}),
		distributions: f.NewCounter(prometheus.CounterOpts{
			Name: "institutehub_documents_distributed_total",
			Help: "Documents successfully distributed",
		}),
		grants: f.NewCounter(prometheus.CounterOpts{
			Name: "institutehub_access_grants_created_total",
			Help: "Access grants created by distribution",
		}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "institutehub_access_resolutions_total",
			Help: "Document access resolutions by outcome",
		}, []string{"outcome"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "institutehub_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome labels err by its error kind, or "ok".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

// Transition counts one membership transition attempt.
func (m *Metrics) Transition(name string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, Outcome(err)).Inc()
}

// Distributed counts a completed distribution and its grants.
func (m *Metrics) Distributed(recipients int) {
	if m == nil {
		return
	}
	m.distributions.Inc()
	m.grants.Add(float64(recipients))
}

// Resolution counts one access resolution.
func (m *Metrics) Resolution(err error) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(Outcome(err)).Inc()
}

// Middleware observes request latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
