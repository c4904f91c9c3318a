package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the booking-service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SlotQueries       *prometheus.CounterVec
	SlotQueryLatency  prometheus.Histogram
	BookingOutcomes   *prometheus.CounterVec
	FlowTransitions   *prometheus.CounterVec
	OutboxPublished   prometheus.Counter
	OutboxFailed      prometheus.Counter
	CompletionSweeps  *prometheus.CounterVec
	AppointmentsSwept prometheus.Counter
}

// New registers all collectors on a private registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SlotQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_queries_total",
			Help:      "Slot availability queries by result (available, empty, closed, error).",
		}, []string{"result"}),
		SlotQueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_query_duration_seconds",
			Help:      "Time spent computing availability for one query.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		BookingOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_outcomes_total",
			Help:      "Appointment mutations by operation and outcome reason.",
		}, []string{"operation", "reason"}),
		FlowTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_transitions_total",
			Help:      "Booking flow transitions by target state.",
		}, []string{"state"}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events relayed to Kafka.",
		}),
		OutboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox relay batches that failed.",
		}),
		CompletionSweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_sweeps_total",
			Help:      "Completion sweeper runs by status.",
		}, []string{"status"}),
		AppointmentsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_completed_by_sweeper_total",
			Help:      "Appointments marked completed because their end time passed.",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSlotQuery(result string, seconds float64) {
	if m == nil {
		return
	}
	m.SlotQueries.WithLabelValues(result).Inc()
	m.SlotQueryLatency.Observe(seconds)
}

func (m *Metrics) ObserveBooking(operation, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "ok"
	}
	m.BookingOutcomes.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.FlowTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObservePublish(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.OutboxFailed.Inc()
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) ObserveSweep(completed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CompletionSweeps.WithLabelValues("error").Inc()
		return
	}
	m.CompletionSweeps.WithLabelValues("ok").Inc()
	m.AppointmentsSwept.Add(float64(completed))
}
