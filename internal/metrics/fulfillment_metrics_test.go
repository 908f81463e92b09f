package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewFulfillmentMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetricsWithRegisterer(reg)

	if m.ordersPlaced == nil || m.ordersRejected == nil || m.stockConflicts == nil ||
		m.reconciliationFailures == nil || m.placeDuration == nil || m.stageDuration == nil ||
		m.outboxEvents == nil || m.inFlight == nil {
		t.Fatal("all collectors must be initialized")
	}

	m.RecordOrderPlaced()
	m.RecordOrderRejected("insufficient_stock")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"shop_orders_placed_total", "shop_orders_rejected_total"} {
		if !names[want] {
			t.Errorf("expected %s to be registered", want)
		}
	}
}

func TestNewFulfillmentMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewFulfillmentMetricsWithRegisterer(reg)
	second := NewFulfillmentMetricsWithRegisterer(reg)

	first.RecordStockConflict()
	second.RecordStockConflict()

	if got := counterValue(t, first.stockConflicts); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordOrderRejected_ByReason(t *testing.T) {
	m := NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderRejected("product_not_found")
	m.RecordOrderRejected("insufficient_stock")
	m.RecordOrderRejected("insufficient_stock")

	if got := counterValue(t, m.ordersRejected.WithLabelValues("insufficient_stock")); got != 2 {
		t.Errorf("expected 2 insufficient_stock rejections, got %f", got)
	}
	if got := counterValue(t, m.ordersRejected.WithLabelValues("product_not_found")); got != 1 {
		t.Errorf("expected 1 product_not_found rejection, got %f", got)
	}
}

func TestPlaceLifecycle(t *testing.T) {
	m := NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordPlaceStarted()
	m.RecordPlaceStarted()
	m.RecordPlaceFinished(100 * time.Millisecond)

	gauge := &dto.Metric{}
	if err := m.inFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 1 {
		t.Errorf("expected 1 placement in flight, got %f", gauge.Gauge.GetValue())
	}

	hist := &dto.Metric{}
	if err := m.placeDuration.Write(hist); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if hist.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 sample, got %d", hist.Histogram.GetSampleCount())
	}
}

func TestRecordStageDuration(t *testing.T) {
	m := NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStageDuration("validating", 5*time.Millisecond)
	m.RecordStageDuration("stock_reconciling", 50*time.Millisecond)
	m.RecordStageDuration("stock_reconciling", 70*time.Millisecond)

	metric := &dto.Metric{}
	observer := m.stageDuration.WithLabelValues("stock_reconciling")
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write stage metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
	sum := metric.Histogram.GetSampleSum()
	if sum < 0.11 || sum > 0.13 {
		t.Errorf("expected sum around 0.12, got %f", sum)
	}
}

func TestRecordCounters(t *testing.T) {
	m := NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordReconciliationFailed()
	m.RecordOutboxEvent()
	m.RecordOutboxEvent()

	if got := counterValue(t, m.reconciliationFailures); got != 1 {
		t.Errorf("expected 1 reconciliation failure, got %f", got)
	}
	if got := counterValue(t, m.outboxEvents); got != 2 {
		t.Errorf("expected 2 outbox events, got %f", got)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestOutboxMetrics_Backlog(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.SetBacklog(4, time.Now().Add(-2*time.Second))
	if got := gaugeValue(t, m.pendingRecords); got != 4 {
		t.Fatalf("expected 4 pending, got %f", got)
	}
	if got := gaugeValue(t, m.oldestPendingAge); got < 2 {
		t.Fatalf("expected age >= 2s, got %f", got)
	}

	m.SetBacklog(0, time.Time{})
	if got := gaugeValue(t, m.oldestPendingAge); got != 0 {
		t.Fatalf("expected zero age for empty backlog, got %f", got)
	}

	m.RecordPublish("sent")
	m.RecordPublish("sent")
	if got := counterValue(t, m.publishAttempts.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent, got %f", got)
	}
}

func TestCleanupMetrics(t *testing.T) {
	m := NewCleanupMetrics(prometheus.NewRegistry())

	m.RecordDeleted(3)
	m.RecordDeleted(0)
	m.RecordRun("ok", 3)
	m.RecordRun("error", 0)

	if got := counterValue(t, m.deleted); got != 3 {
		t.Fatalf("expected 3 deleted, got %f", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 3 {
		t.Fatalf("expected last deleted 3, got %f", got)
	}
}

func TestWorkerMetrics_NilSafe(t *testing.T) {
	var outbox *OutboxMetrics
	var cleanup *CleanupMetrics

	outbox.RecordPublish("sent")
	outbox.SetBacklog(1, time.Now())
	cleanup.RecordRun("ok", 1)
	cleanup.RecordDeleted(1)
}
