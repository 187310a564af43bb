package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Domain metrics.
var (
	riskCalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_score_calculations_total",
			Help: "Risk score calculations by result.",
		},
		[]string{"result"},
	)

	riskCalculationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "risk_score_calculation_seconds",
		Help:    "Time to compute and persist one user risk score.",
		Buckets: prometheus.DefBuckets,
	})

	riskBulkLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_bulk_last_run_users",
			Help: "Users processed by the last bulk rescore, by outcome.",
		},
		[]string{"outcome"},
	)

	phishingEventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishing_events_recorded_total",
			Help: "Phishing simulation actions recorded.",
		},
		[]string{"action"},
	)

	phishingCampaignTargets = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phishing_campaign_targets",
		Help:    "Resolved target population per launched campaign.",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
	})

	notifyPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_publish_total",
			Help: "Notifications published by topic and result.",
		},
		[]string{"topic", "result"},
	)
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			riskCalculations, riskCalculationDuration, riskBulkLastRun,
			phishingEventsRecorded, phishingCampaignTargets, notifyPublished,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps next with in-flight, request count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in known routes so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return p
	}
	switch parts[1] {
	case "campaigns":
		switch {
		case len(parts) == 3:
			return "/v1/campaigns/:id"
		case len(parts) == 4 && (parts[3] == "events" || parts[3] == "stats"):
			return "/v1/campaigns/:id/" + parts[3]
		}
	case "users":
		switch {
		case len(parts) == 4:
			return "/v1/users/:id/" + parts[3]
		case len(parts) == 5 && parts[3] == "risk-score" && parts[4] == "history":
			return "/v1/users/:id/risk-score/history"
		}
	}
	return p
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveRiskCalculation records one score computation.
func ObserveRiskCalculation(err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	riskCalculations.WithLabelValues(result).Inc()
	riskCalculationDuration.Observe(took.Seconds())
}

// SetBulkRun publishes the outcome of the most recent bulk rescore.
func SetBulkRun(succeeded, failed int) {
	riskBulkLastRun.WithLabelValues("succeeded").Set(float64(succeeded))
	riskBulkLastRun.WithLabelValues("failed").Set(float64(failed))
}

// RecordPhishingAction counts a recorded simulation action.
func RecordPhishingAction(action string) {
	phishingEventsRecorded.WithLabelValues(strings.ToLower(action)).Inc()
}

// ObserveCampaignTargets records the resolved target count of a new campaign.
func ObserveCampaignTargets(n int) {
	phishingCampaignTargets.Observe(float64(n))
}

// RecordPublish counts a notification publish attempt.
func RecordPublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notifyPublished.WithLabelValues(topic, result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
