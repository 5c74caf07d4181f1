package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and payment flows.
type BookingMetrics struct {
	bookingsCreated      *prometheus.CounterVec
	slotConflicts        prometheus.Counter
	webhooks             *prometheus.CounterVec
	reconciliationAlerts *prometheus.CounterVec
	staleCleanup         prometheus.Counter
	notifications        *prometheus.CounterVec
	handlerOutcomes      *prometheus.CounterVec
	operationLatency     *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "bookings_created_total",
			Help:      "Bookings created, by payment mode",
		}, []string{"mode"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Booking attempts rejected because the slot was taken",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "webhooks_total",
			Help:      "PayHere notifications received, by result",
		}, []string{"result"}),
		reconciliationAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "reconciliation_alerts_total",
			Help:      "Payments that need operator reconciliation",
		}, []string{"reason"}),
		staleCleanup: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "stale_cleanup_total",
			Help:      "Pending bookings expired by the cleanup job",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "notifications_total",
			Help:      "SMS notifications attempted",
		}, []string{"kind", "status"}),
		handlerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "event_handler_total",
			Help:      "Outbox event handler invocations",
		}, []string{"handler", "event_type", "status"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "operation_seconds",
			Help:      "Latency of booking service operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsCreated,
		m.slotConflicts,
		m.webhooks,
		m.reconciliationAlerts,
		m.staleCleanup,
		m.notifications,
		m.handlerOutcomes,
		m.operationLatency,
	)
	return m
}

func (m *BookingMetrics) ObserveBookingCreated(mode string) {
	if m == nil {
		return
	}
	m.bookingsCreated.WithLabelValues(mode).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *BookingMetrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveReconciliation(reason string) {
	if m == nil {
		return
	}
	m.reconciliationAlerts.WithLabelValues(reason).Inc()
}

func (m *BookingMetrics) ObserveStaleCleanup(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.staleCleanup.Add(float64(count))
}

func (m *BookingMetrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, statusLabel(err)).Inc()
}

// ObserveHandler matches the events.Observer signature.
func (m *BookingMetrics) ObserveHandler(handler, eventType string, err error) {
	if m == nil {
		return
	}
	m.handlerOutcomes.WithLabelValues(handler, eventType, statusLabel(err)).Inc()
}

func (m *BookingMetrics) ObserveOperation(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
