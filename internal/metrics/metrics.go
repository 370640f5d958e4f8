package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ckdtjq0011/saas-survey/internal/services"
)

const namespace = "survey"

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the global one.
type Metrics struct {
	registry     *prometheus.Registry
	accepted     prometheus.Counter
	rejected     *prometheus.CounterVec
	statistics   prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_accepted_total",
			Help:      "Submissions stored.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_rejected_total",
			Help:      "Submissions rejected, by reason.",
		}, []string{"reason"}),
		statistics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statistics_requests_total",
			Help:      "Statistics reports served.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	bootTime := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "boot_time_seconds",
		Help:      "Server startup time.",
	})
	bootTime.Set(float64(time.Now().Unix()))
	m.registry.MustRegister(
		m.accepted, m.rejected, m.statistics, m.httpDuration, bootTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ResponseAccepted(string) { m.accepted.Inc() }

func (m *Metrics) ResponseRejected(reason services.Reason) {
	m.rejected.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) StatisticsServed(string) { m.statistics.Inc() }

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ services.SubmissionObserver = (*Metrics)(nil)
