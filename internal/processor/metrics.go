package processor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the processor's delivery counters to Prometheus.
type Metrics struct {
	processedTotal    *prometheus.CounterVec
	failedTotal       *prometheus.CounterVec
	retriedTotal      *prometheus.CounterVec
	deadLetteredTotal *prometheus.CounterVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speedlayer",
			Subsystem: "processor",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates and registers the processor collectors. Passing a nil
// registerer uses the Prometheus default. Re-registering an existing
// collector is not an error.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		processedTotal:    registerCounterVec(registerer, newCounterVec("events_processed_total", "Events published successfully", []string{"topic"})),
		failedTotal:       registerCounterVec(registerer, newCounterVec("events_failed_total", "Delivery attempts that failed", []string{"topic"})),
		retriedTotal:      registerCounterVec(registerer, newCounterVec("events_retried_total", "Retry attempts scheduled", []string{"topic"})),
		deadLetteredTotal: registerCounterVec(registerer, newCounterVec("events_dead_lettered_total", "Envelopes moved to the dead letter store", []string{"topic"})),
	}
}

// registerCounterVec returns the registered collector, swapping in the
// existing one when another processor already registered it so both
// increment the counters the registry actually scrapes.
func registerCounterVec(registerer prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func (m *Metrics) recordProcessed(topic string) {
	if m != nil {
		m.processedTotal.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) recordFailed(topic string) {
	if m != nil {
		m.failedTotal.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) recordRetried(topic string) {
	if m != nil {
		m.retriedTotal.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) recordDeadLettered(topic string) {
	if m != nil {
		m.deadLetteredTotal.WithLabelValues(topic).Inc()
	}
}
