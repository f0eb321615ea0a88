package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync pass metrics
	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovpn_sync_passes_total",
			Help: "Total number of sync passes by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ovpn_sync_pass_duration_seconds",
			Help:    "Duration of sync passes in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovpn_sync_operations_total",
			Help: "Account operations applied by sync passes (created, updated, deleted, error)",
		},
		[]string{"operation"},
	)

	SchedulerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ovpn_sync_scheduler_running",
			Help: "Whether the sync scheduler is running (1 = running, 0 = stopped)",
		},
	)

	// Device metrics
	TunnelIPReassignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ovpn_tunnel_ip_reassignments_total",
			Help: "Device records evicted because their tunnel IP moved to another user",
		},
	)

	// Gateway metrics
	GatewayCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ovpn_gateway_command_duration_seconds",
			Help:    "Duration of sacli invocations in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command"},
	)

	GatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovpn_gateway_errors_total",
			Help: "Failed sacli invocations by command",
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(SyncPassesTotal)
	prometheus.MustRegister(SyncPassDuration)
	prometheus.MustRegister(SyncOperationsTotal)
	prometheus.MustRegister(SchedulerRunning)
	prometheus.MustRegister(TunnelIPReassignmentsTotal)
	prometheus.MustRegister(GatewayCommandDuration)
	prometheus.MustRegister(GatewayErrorsTotal)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation and reports it to a histogram
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Elapsed().Seconds())
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Elapsed().Seconds())
}
