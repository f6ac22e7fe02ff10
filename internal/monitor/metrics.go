package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	callersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onair_callers_total",
			Help: "Current number of callers per status",
		},
		[]string{"status"},
	)

	participants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_participants_total",
			Help: "Current number of media participants (host included)",
		},
	)

	showLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_show_live",
			Help: "1 while a show is live, 0 otherwise",
		},
	)

	screenSharing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onair_screen_sharing",
			Help: "1 while the host is sharing a screen, 0 otherwise",
		},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onair_queue_operations_total",
			Help: "Total roster operations",
		},
		[]string{"operation", "status"},
	)
)

// Monitor updates the process metrics from roster and stream events.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// SetCallers records the per-status roster counts.
func (m *Monitor) SetCallers(waiting, live, rejected int) {
	callersByStatus.WithLabelValues("waiting").Set(float64(waiting))
	callersByStatus.WithLabelValues("live").Set(float64(live))
	callersByStatus.WithLabelValues("rejected").Set(float64(rejected))
}

// SetParticipants records the current participant count.
func (m *Monitor) SetParticipants(n int) {
	participants.Set(float64(n))
}

// SetShowLive flips the live gauge.
func (m *Monitor) SetShowLive(live bool) {
	showLive.Set(boolGauge(live))
}

// SetScreenSharing flips the screen-share gauge.
func (m *Monitor) SetScreenSharing(sharing bool) {
	screenSharing.Set(boolGauge(sharing))
}

// TrackOperation counts one roster operation with its outcome.
func (m *Monitor) TrackOperation(operation, status string) {
	queueOperations.WithLabelValues(operation, status).Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
