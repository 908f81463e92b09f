package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит метрики оформления заказов.
type FulfillmentMetrics struct {
	// Счётчики исходов
	ordersPlaced           prometheus.Counter
	ordersRejected         *prometheus.CounterVec
	stockConflicts         prometheus.Counter
	reconciliationFailures prometheus.Counter

	// Гистограммы времени выполнения
	placeDuration prometheus.Histogram
	stageDuration *prometheus.HistogramVec

	outboxEvents prometheus.Counter

	// Gauge для оформлений в процессе
	inFlight prometheus.Gauge
}

// NewFulfillmentMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer позволяет передать изолированный реестр (тесты).
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_placed_total",
			Help: "Total number of orders placed with stock decremented",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_orders_rejected_total",
			Help: "Total number of order placements rejected, by reason",
		}, []string{"reason"}),
		stockConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_conflicts_total",
			Help: "Total number of conditional stock updates that lost a race",
		}),
		reconciliationFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_reconciliation_failed_total",
			Help: "Total number of persisted orders whose stock decrement could not be applied",
		}),
		placeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shop_place_order_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_fulfillment_stage_duration_seconds",
			Help:    "Duration of individual fulfillment stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"stage"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_fulfillment_outbox_events_total",
			Help: "Total number of events enqueued to the outbox by fulfillment",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_place_order_in_flight",
			Help: "Number of order placements currently in progress",
		}),
	}
}

// RecordPlaceStarted увеличивает число оформлений в процессе.
func (m *FulfillmentMetrics) RecordPlaceStarted() {
	m.inFlight.Inc()
}

// RecordPlaceFinished уменьшает число оформлений в процессе и пишет длительность.
func (m *FulfillmentMetrics) RecordPlaceFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.placeDuration.Observe(duration.Seconds())
}

// RecordOrderPlaced увеличивает счётчик успешно оформленных заказов.
func (m *FulfillmentMetrics) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderRejected увеличивает счётчик отказов с причиной reason.
func (m *FulfillmentMetrics) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordStockConflict увеличивает счётчик конфликтов условного обновления.
func (m *FulfillmentMetrics) RecordStockConflict() {
	m.stockConflicts.Inc()
}

// RecordReconciliationFailed увеличивает счётчик заказов, требующих сверки остатков.
func (m *FulfillmentMetrics) RecordReconciliationFailed() {
	m.reconciliationFailures.Inc()
}

// RecordStageDuration записывает длительность стадии оформления.
func (m *FulfillmentMetrics) RecordStageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *FulfillmentMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
