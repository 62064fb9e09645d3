package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestBookingMetricsObserve(t *testing.T) {
	m := NewBookingMetrics(nil)
	m.ObserveBooking("succeeded")
	m.ObserveCancellation("succeeded")
	m.ObserveCompensation("released")
	m.ObserveWallet("debit", "ok")
	m.ObserveSignal("booked", true)
	m.ObserveCallTransition("accept", "ok")
	m.ObserveStep("debit", 0.05)
}

func TestBookingMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveBooking("conflict")
	m.ObserveBooking("conflict")
	m.ObserveSignal("cancelled", false)

	if got := counterValue(t, reg, "consult_booking_attempts_total", map[string]string{"outcome": "conflict"}); got != 2 {
		t.Fatalf("expected 2 conflicts, got %v", got)
	}
	if got := counterValue(t, reg, "consult_relay_publish_total", map[string]string{"type": "cancelled", "status": "failed"}); got != 1 {
		t.Fatalf("expected 1 failed publish, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("succeeded")
	m.ObserveCancellation("succeeded")
	m.ObserveCompensation("released")
	m.ObserveWallet("credit", "ok")
	m.ObserveSignal("booked", false)
	m.ObserveCallTransition("end", "ok")
	m.ObserveStep("create", 0.1)
}
