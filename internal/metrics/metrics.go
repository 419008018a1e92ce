// Package metrics holds the Prometheus registry for streamkeeper.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the daemon. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	streamsByState    *prometheus.GaugeVec
	relayUp           prometheus.Gauge
	devicesDiscovered prometheus.Gauge
	streamRestarts    *prometheus.CounterVec
	relayRestarts     prometheus.Counter
	discoveryPasses   *prometheus.CounterVec
	apiRequests       *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	streamsByState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamkeeper_streams",
		Help: "Number of supervised streams per lifecycle state",
	}, []string{"state"})
	relayUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamkeeper_relay_up",
		Help: "Whether the relay control endpoint answered on the last check",
	})
	devicesDiscovered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamkeeper_devices_discovered",
		Help: "Capture devices found by the last discovery pass",
	})
	streamRestarts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_stream_restarts_total",
		Help: "Pipeline restarts scheduled per stream",
	}, []string{"stream"})
	relayRestarts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamkeeper_relay_restarts_total",
		Help: "Relay restarts performed by the health loop",
	})
	discoveryPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_discovery_passes_total",
		Help: "Discovery passes by result",
	}, []string{"result"})
	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_api_requests_total",
		Help: "HTTP API requests by status class",
	}, []string{"code"})

	registry.MustRegister(
		streamsByState,
		relayUp,
		devicesDiscovered,
		streamRestarts,
		relayRestarts,
		discoveryPasses,
		apiRequests,
	)

	return &Metrics{
		registry:          registry,
		streamsByState:    streamsByState,
		relayUp:           relayUp,
		devicesDiscovered: devicesDiscovered,
		streamRestarts:    streamRestarts,
		relayRestarts:     relayRestarts,
		discoveryPasses:   discoveryPasses,
		apiRequests:       apiRequests,
	}
}

// SetStreamStates replaces the per-state stream gauge.
func (m *Metrics) SetStreamStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.streamsByState.Reset()
	for state, n := range counts {
		m.streamsByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetRelayUp records relay liveness.
func (m *Metrics) SetRelayUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.relayUp.Set(1)
	} else {
		m.relayUp.Set(0)
	}
}

// SetDevicesDiscovered records the size of the last discovery result.
func (m *Metrics) SetDevicesDiscovered(n int) {
	if m == nil {
		return
	}
	m.devicesDiscovered.Set(float64(n))
}

// IncStreamRestart counts a scheduled restart for stream.
func (m *Metrics) IncStreamRestart(stream string) {
	if m == nil {
		return
	}
	m.streamRestarts.WithLabelValues(stream).Inc()
}

// IncRelayRestart counts a relay restart.
func (m *Metrics) IncRelayRestart() {
	if m == nil {
		return
	}
	m.relayRestarts.Inc()
}

// IncDiscovery counts a discovery pass with result "ok", "empty" or "error".
func (m *Metrics) IncDiscovery(result string) {
	if m == nil {
		return
	}
	m.discoveryPasses.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
