// ABOUTME: Prometheus metrics exposition for the alert pipeline.
// ABOUTME: Publishes poll-cycle counters and ledger size on the /metrics endpoint.

package metrics

import (
	"net/http"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type StatsProvider interface {
	GetStats() types.PollStats
}

type MetricsHandler struct {
	provider StatsProvider
	logger   *logrus.Logger

	cycles              prometheus.Gauge
	dependenciesFetched prometheus.Gauge
	uniquePackages      prometheus.Gauge
	batchesResolved     prometheus.Gauge
	failures            *prometheus.GaugeVec
	alertsSeen          prometheus.Gauge
	alertsNotified      prometheus.Gauge
	ledgerSize          prometheus.Gauge
	lastCycleTime       prometheus.Gauge
	lastCycleDuration   prometheus.Gauge
}

func NewMetricsHandler(provider StatsProvider, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		provider: provider,
		logger:   logger,

		cycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_poll_cycles_total",
			Help: "Number of completed poll cycles since process start",
		}),
		dependenciesFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_dependencies_fetched_total",
			Help: "Number of dependency inventory rows fetched across all cycles",
		}),
		uniquePackages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_unique_packages_total",
			Help: "Number of unique package coordinates resolved across all cycles",
		}),
		batchesResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_batches_resolved_total",
			Help: "Number of successfully resolved package batches",
		}),
		failures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alarm_pusher_failures_total",
				Help: "Absorbed failures by containment scope (page, batch, notify)",
			},
			[]string{"scope"},
		),
		alertsSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_alerts_seen_total",
			Help: "Number of alerts observed before filtering and dedup",
		}),
		alertsNotified: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_alerts_notified_total",
			Help: "Number of newly observed actionable alerts pushed to the sink",
		}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_ledger_size",
			Help: "Number of alert identities recorded in the dedup ledger",
		}),
		lastCycleTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_last_cycle_timestamp",
			Help: "Unix timestamp of the last completed poll cycle",
		}),
		lastCycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarm_pusher_last_cycle_duration_seconds",
			Help: "Duration of the last completed poll cycle in seconds",
		}),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Create a new registry for this request to avoid conflicts
	registry := prometheus.NewRegistry()

	registry.MustRegister(m.cycles)
	registry.MustRegister(m.dependenciesFetched)
	registry.MustRegister(m.uniquePackages)
	registry.MustRegister(m.batchesResolved)
	registry.MustRegister(m.failures)
	registry.MustRegister(m.alertsSeen)
	registry.MustRegister(m.alertsNotified)
	registry.MustRegister(m.ledgerSize)
	registry.MustRegister(m.lastCycleTime)
	registry.MustRegister(m.lastCycleDuration)

	stats := m.provider.GetStats()

	m.cycles.Set(float64(stats.Cycles))
	m.dependenciesFetched.Set(float64(stats.DependenciesFetched))
	m.uniquePackages.Set(float64(stats.UniquePackages))
	m.batchesResolved.Set(float64(stats.BatchesResolved))
	m.failures.WithLabelValues("page").Set(float64(stats.PageFailures))
	m.failures.WithLabelValues("batch").Set(float64(stats.BatchFailures))
	m.failures.WithLabelValues("notify").Set(float64(stats.NotifyFailures))
	m.alertsSeen.Set(float64(stats.AlertsSeen))
	m.alertsNotified.Set(float64(stats.AlertsNotified))
	m.ledgerSize.Set(float64(stats.LedgerSize))
	if !stats.LastCycleTime.IsZero() {
		m.lastCycleTime.Set(float64(stats.LastCycleTime.Unix()))
	}
	m.lastCycleDuration.Set(stats.LastCycleDuration.Seconds())

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

// CreateMetricsHandler creates a standard HTTP handler that can be used with http.ServeMux
func CreateMetricsHandler(provider StatsProvider, logger *logrus.Logger) http.HandlerFunc {
	metricsHandler := NewMetricsHandler(provider, logger)
	return metricsHandler.ServeHTTP
}
