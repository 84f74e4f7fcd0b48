package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Delivery targets and results used as label values.
const (
	TargetAll  = "all"
	TargetUser = "user"
	TargetJob  = "job"

	ResultQueued  = "queued"
	ResultDropped = "dropped"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, which keeps wiring optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	Deliveries        *prometheus.CounterVec
	Messages          *prometheus.CounterVec
	DispatchPanics    *prometheus.CounterVec
	RelayState        *prometheus.GaugeVec
	Reconnects        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of live client connections in the registry",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-connection enqueue attempts by target and result",
		}, []string{"target", "result"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Broker messages received by relay and envelope kind",
		}, []string{"relay", "kind"}),
		DispatchPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_panics_total",
			Help:      "Recovered panics in dispatch goroutines",
		}, []string{"relay"}),
		RelayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Relay state (0=stopped, 1=consuming, 2=reconnecting)",
		}, []string{"relay"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Subscription attempts after the first one",
		}, []string{"relay"}),
	}

	m.registry.MustRegister(
		m.ConnectionsActive,
		m.Deliveries,
		m.Messages,
		m.DispatchPanics,
		m.RelayState,
		m.Reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(float64(n))
}

func (m *Metrics) Delivered(target string, queued, dropped int) {
	if m == nil {
		return
	}
	if queued > 0 {
		m.Deliveries.WithLabelValues(target, ResultQueued).Add(float64(queued))
	}
	if dropped > 0 {
		m.Deliveries.WithLabelValues(target, ResultDropped).Add(float64(dropped))
	}
}

func (m *Metrics) MessageReceived(relay, kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(relay, kind).Inc()
}

func (m *Metrics) DispatchPanicked(relay string) {
	if m == nil {
		return
	}
	m.DispatchPanics.WithLabelValues(relay).Inc()
}

func (m *Metrics) SetRelayState(relay string, state int) {
	if m == nil {
		return
	}
	m.RelayState.WithLabelValues(relay).Set(float64(state))
}

func (m *Metrics) Reconnected(relay string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(relay).Inc()
}
