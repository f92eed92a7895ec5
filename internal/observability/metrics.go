package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_http_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_cache_lookups_total",
			Help: "Progress snapshot lookups by outcome (hit, miss, stale, forced)",
		}, []string{"result"},
	)
	RuleEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_rule_evaluations_total",
			Help: "Rules evaluated by kind and verdict",
		}, []string{"kind", "passed"},
	)
	MetricsFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_metrics_fetch_duration_seconds",
		Help:    "Time to assemble one metrics snapshot",
		Buckets: prometheus.DefBuckets,
	})
	MetricsFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_metrics_fetch_errors_total",
			Help: "Failed metrics snapshots by source",
		}, []string{"source"},
	)
	SnapshotsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_cache_swept_total",
		Help: "Expired progress snapshots removed by the sweeper",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight, RequestErrors,
		CacheLookups, RuleEvaluations, MetricsFetchDuration, MetricsFetchErrors, SnapshotsSwept,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
		if rr.code >= http.StatusInternalServerError {
			RequestErrors.WithLabelValues("server").Inc()
		} else if rr.code >= http.StatusBadRequest {
			RequestErrors.WithLabelValues("client").Inc()
		}
	})
}
