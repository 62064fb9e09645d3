package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the reservation core.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	walletOpsTotal     *prometheus.CounterVec
	signalsTotal       *prometheus.CounterVec
	callTransitions    *prometheus.CounterVec
	stepLatency        *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancellation attempts by outcome",
		}, []string{"outcome"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Saga compensations by result",
		}, []string{"result"}),
		walletOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet ledger calls by operation and status",
		}, []string{"op", "status"}),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "relay",
			Name:      "publish_total",
			Help:      "Signal relay publishes by event type and status",
		}, []string{"type", "status"}),
		callTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "calls",
			Name:      "transitions_total",
			Help:      "Call session transitions by name and status",
		}, []string{"transition", "status"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "step_latency_seconds",
			Help:      "Latency of individual saga steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.cancellationsTotal, m.compensationsTotal,
		m.walletOpsTotal, m.signalsTotal, m.callTransitions, m.stepLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCompensation(result string) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveWallet(op, status string) {
	if m == nil {
		return
	}
	m.walletOpsTotal.WithLabelValues(op, status).Inc()
}

func (m *BookingMetrics) ObserveSignal(eventType string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.signalsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *BookingMetrics) ObserveCallTransition(transition, status string) {
	if m == nil {
		return
	}
	m.callTransitions.WithLabelValues(transition, status).Inc()
}

func (m *BookingMetrics) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(step).Observe(seconds)
}
