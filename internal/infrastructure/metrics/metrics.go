package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon"

// Suppression reasons reported by the state store.
const (
	ReasonUnknownDevice  = "unknown_device"
	ReasonUnknownContact = "unknown_contact"
	ReasonNull           = "null"
	ReasonDuplicate      = "duplicate"
	ReasonNoise          = "noise"
)

// Metrics owns the station's Prometheus collectors. It satisfies the small
// metrics interfaces declared by the device, conduct and automation packages.
type Metrics struct {
	registry *prometheus.Registry

	stateAccepted     *prometheus.CounterVec
	stateSuppressed   *prometheus.CounterVec
	conductsPublished *prometheus.CounterVec
	processesFired    *prometheus.CounterVec
	processFailures   *prometheus.CounterVec
	mqttConnects      prometheus.Counter
}

// New creates a Metrics instance on its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stateAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "changes_total",
			Help:      "Accepted device state changes.",
		}, []string{"channel"}),
		stateSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "suppressed_total",
			Help:      "Incoming state values dropped before publication.",
		}, []string{"reason"}),
		conductsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conduct",
			Name:      "published_total",
			Help:      "Conducts dispatched to adapters.",
		}, []string{"channel"}),
		processesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "processes_fired_total",
			Help:      "Processes whose condition was met.",
		}, []string{"process"}),
		processFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "process_failures_total",
			Help:      "Processes skipped because their condition failed to evaluate.",
		}, []string{"process"}),
		mqttConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connects_total",
			Help:      "MQTT broker connect events seen after startup.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stateAccepted,
		m.stateSuppressed,
		m.conductsPublished,
		m.processesFired,
		m.processFailures,
		m.mqttConnects,
	)
	return m
}

// StateAccepted counts a published state change.
func (m *Metrics) StateAccepted(channel string) {
	m.stateAccepted.WithLabelValues(channel).Inc()
}

// StateSuppressed counts a dropped state value.
func (m *Metrics) StateSuppressed(reason string) {
	m.stateSuppressed.WithLabelValues(reason).Inc()
}

// ConductsPublished counts n conducts dispatched on channel.
func (m *Metrics) ConductsPublished(channel string, n int) {
	m.conductsPublished.WithLabelValues(channel).Add(float64(n))
}

// ProcessFired counts a process whose condition held.
func (m *Metrics) ProcessFired(process string) {
	m.processesFired.WithLabelValues(process).Inc()
}

// ProcessFailed counts a process skipped on an evaluation error.
func (m *Metrics) ProcessFailed(process string) {
	m.processFailures.WithLabelValues(process).Inc()
}

// MQTTConnected counts a broker (re)connection.
func (m *Metrics) MQTTConnected() {
	m.mqttConnects.Inc()
}

// RegisterQueue exposes the pending length of a delayed dispatch queue.
func (m *Metrics) RegisterQueue(name string, pending func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "dispatch",
		Name:        "pending_items",
		Help:        "Items waiting in a delayed dispatch queue.",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(pending()) }))
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
