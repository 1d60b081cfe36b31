package bridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts what the pipeline did with each line and reading.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	lines      *prometheus.CounterVec
	writes     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	state      prometheus.Gauge
	gatherer   prometheus.Gatherer
}

// NewMetrics builds the collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigo_lines_total",
			Help: "Lines read from the device by outcome (reading, ignored, frame_error, decode_error).",
		}, []string{"result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigo_writes_total",
			Help: "Store write attempts by outcome (ok, transient, permanent).",
		}, []string{"result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigo_dropped_readings_total",
			Help: "Parsed readings that were never committed, by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigo_reconnects_total",
			Help: "Reconnect cycles started, by link (device, store).",
		}, []string{"link"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irrigo_state",
			Help: "Supervisor state (0 starting, 1 running, 2 recovering link, 3 recovering store, 4 stopped).",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.lines,
		m.writes,
		m.dropped,
		m.reconnects,
		m.state,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Line(result string) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(result).Inc()
}

func (m *Metrics) Write(result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconnect(link string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(link).Inc()
}

func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
