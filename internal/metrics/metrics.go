// Package metrics holds the prometheus collectors shared by the ingestion,
// capture and flow monitoring paths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Source labels for record counters.
const (
	SourceFile = "file"
	SourceLive = "live"
)

// Metrics is a set of collectors registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsIngested *prometheus.CounterVec
	ParseFailures   *prometheus.CounterVec
	FlowBytes       *prometheus.CounterVec
	FlowWindow      *prometheus.GaugeVec
	CaptureActive   prometheus.Gauge
	RecordsStored   prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RecordsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sharkline",
				Name:      "records_ingested_total",
				Help:      "Packet records parsed and indexed.",
			},
			[]string{"source"},
		),
		ParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sharkline",
				Name:      "parse_failures_total",
				Help:      "tshark output lines that did not parse.",
			},
			[]string{"source"},
		),
		FlowBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sharkline",
				Name:      "flow_bytes_total",
				Help:      "Bytes seen by the flow trend monitor.",
			},
			[]string{"interface"},
		),
		FlowWindow: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sharkline",
				Name:      "flow_window_seconds",
				Help:      "Distinct seconds held in an interface's trend window.",
			},
			[]string{"interface"},
		),
		CaptureActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharkline",
			Name:      "capture_active",
			Help:      "1 while a live capture session runs.",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharkline",
			Name:      "records_stored_total",
			Help:      "Packet records committed to the database.",
		}),
	}
	m.Registry.MustRegister(
		m.RecordsIngested,
		m.ParseFailures,
		m.FlowBytes,
		m.FlowWindow,
		m.CaptureActive,
		m.RecordsStored,
	)
	return m
}
