package metrics

import (
	"time"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass outcomes used as the "outcome" label
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	passesTotal    *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	itemsUpserted  *prometheus.CounterVec
	itemsSkipped   *prometheus.CounterVec
	detailFailures *prometheus.CounterVec
	lastKnownID    *prometheus.GaugeVec
	passActive     *prometheus.GaugeVec

	notifierObservers prometheus.Gauge
	notifierDropped   prometheus.Counter
}

// New creates the collectors and registers them with registry. With a nil
// registry the collectors work but are not exported.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		passesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yggsync_passes_total",
			Help: "Total number of sync passes by category, kind and outcome",
		}, []string{"category", "kind", "outcome"}),

		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yggsync_pass_duration_seconds",
			Help:    "Duration of finished sync passes",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"category", "kind"}),

		itemsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yggsync_items_upserted_total",
			Help: "Total number of torrents written to the store",
		}, []string{"category"}),

		itemsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yggsync_items_skipped_total",
			Help: "Total number of torrents skipped because they were already stored with detail",
		}, []string{"category"}),

		detailFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yggsync_detail_failures_total",
			Help: "Total number of torrents dropped after exhausting detail fetch attempts",
		}, []string{"category"}),

		lastKnownID: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yggsync_last_known_id",
			Help: "Highest torrent ID confirmed synchronised per category",
		}, []string{"category"}),

		passActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yggsync_pass_active",
			Help: "1 while a pass is running for the category",
		}, []string{"category"}),

		notifierObservers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "yggsync_notifier_observers",
			Help: "Number of currently subscribed event observers",
		}),

		notifierDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "yggsync_notifier_dropped_events_total",
			Help: "Total number of events dropped for slow observers",
		}),
	}
}

// ObservePass records a finished pass. Rejected passes have no duration.
func (m *Metrics) ObservePass(cat models.Category, kind models.PassKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(string(cat), string(kind), outcome).Inc()
	if outcome != OutcomeRejected {
		m.passDuration.WithLabelValues(string(cat), string(kind)).Observe(d.Seconds())
	}
}

func (m *Metrics) IncUpserted(cat models.Category) {
	if m == nil {
		return
	}
	m.itemsUpserted.WithLabelValues(string(cat)).Inc()
}

func (m *Metrics) AddSkipped(cat models.Category, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsSkipped.WithLabelValues(string(cat)).Add(float64(n))
}

func (m *Metrics) IncDetailFailure(cat models.Category) {
	if m == nil {
		return
	}
	m.detailFailures.WithLabelValues(string(cat)).Inc()
}

func (m *Metrics) SetLastKnownID(cat models.Category, id int64) {
	if m == nil {
		return
	}
	m.lastKnownID.WithLabelValues(string(cat)).Set(float64(id))
}

func (m *Metrics) SetPassActive(cat models.Category, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.passActive.WithLabelValues(string(cat)).Set(v)
}

func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.notifierObservers.Set(float64(n))
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.notifierDropped.Inc()
}
