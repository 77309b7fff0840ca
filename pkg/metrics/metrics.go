package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scaling metrics
	ScalesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pygmy_scales_total",
			Help: "Total scaling runs by result",
		},
		[]string{"result"},
	)

	FallbacksUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pygmy_fallbacks_used_total",
			Help: "Total times a fallback instance class was attempted",
		},
	)

	RevertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pygmy_reverts_total",
			Help: "Total times a node was reverted to its previous class",
		},
	)

	PagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pygmy_pages_total",
			Help: "Total pages sent for human help",
		},
	)

	ScaleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pygmy_scale_duration_seconds",
			Help:    "Time to drive one node through a resize",
			Buckets: prometheus.ExponentialBuckets(10, 2, 8), // 10s to ~21m
		},
	)

	// Evaluation metrics
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pygmy_rejections_total",
			Help: "Replicas rejected by the safety evaluator, by reason",
		},
		[]string{"reason"},
	)

	// Dispatcher metrics
	ActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pygmy_activations_total",
			Help: "Rule activations by outcome",
		},
		[]string{"outcome"},
	)

	RetriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pygmy_retries_scheduled_total",
			Help: "Total retry schedules installed after failed activations",
		},
	)

	DNSUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pygmy_dns_updates_total",
			Help: "DNS steering attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		ScalesTotal,
		FallbacksUsed,
		RevertsTotal,
		PagesTotal,
		ScaleDuration,
		RejectionsTotal,
		ActivationsTotal,
		RetriesScheduled,
		DNSUpdatesTotal,
	)
}

// Timer measures a duration for a histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into the histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP listener on addr. Blocks until the
// server exits.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
