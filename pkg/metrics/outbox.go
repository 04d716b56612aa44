package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records processor outcomes per operation type.
type OutboxMetrics struct {
	done      *prometheus.CounterVec
	retried   *prometheus.CounterVec
	dead      *prometheus.CounterVec
	batchTime prometheus.Histogram
}

// NewOutboxMetrics registers the outbox processor metrics on the provided
// registerer. A nil registerer yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	done := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_items_done",
		Help: "Outbox items processed successfully.",
	}, []string{"op_type"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_items_retried",
		Help: "Outbox items rescheduled after a transient failure.",
	}, []string{"op_type"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_items_dead",
		Help: "Outbox items dead-lettered.",
	}, []string{"op_type"})
	batchTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Duration of outbox processing batches in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(done, retried, dead, batchTime)
	return &OutboxMetrics{
		done:      done,
		retried:   retried,
		dead:      dead,
		batchTime: batchTime,
	}
}

// IncDone increments the success counter for the operation type.
func (m *OutboxMetrics) IncDone(opType string) {
	if m == nil || m.done == nil {
		return
	}
	m.done.WithLabelValues(normalizeLabel(opType)).Inc()
}

// IncRetried increments the reschedule counter for the operation type.
func (m *OutboxMetrics) IncRetried(opType string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(opType)).Inc()
}

// IncDead increments the dead-letter counter for the operation type.
func (m *OutboxMetrics) IncDead(opType string) {
	if m == nil || m.dead == nil {
		return
	}
	m.dead.WithLabelValues(normalizeLabel(opType)).Inc()
}

// ObserveBatch records the wall time of one processing batch.
func (m *OutboxMetrics) ObserveBatch(duration time.Duration) {
	if m == nil || m.batchTime == nil {
		return
	}
	m.batchTime.Observe(duration.Seconds())
}
