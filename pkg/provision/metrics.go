package provision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records one provisioning run for node-exporter's textfile
// collector.
type Metrics struct {
	registry     *prometheus.Registry
	stepDuration *prometheus.GaugeVec
	stepFailures *prometheus.CounterVec
	certsReady   prometheus.Gauge
	lastRun      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgestack_step_duration_seconds",
			Help: "Time taken by each provisioning step during the last run.",
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgestack_step_failures_total",
			Help: "Provisioning steps that failed, by step and whether the failure was fatal.",
		}, []string{"step", "class"}),
		certsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestack_certificates_ready",
			Help: "1 when certificate issuance was confirmed for every host.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestack_last_run_timestamp_seconds",
			Help: "Unix time the last provisioning run finished.",
		}),
	}
	m.registry.MustRegister(m.stepDuration, m.stepFailures, m.certsReady, m.lastRun)
	return m
}

func (m *Metrics) observeStep(step string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Set(d.Seconds())
}

func (m *Metrics) stepFailed(step string, fatal bool) {
	class := "advisory"
	if fatal {
		class = "fatal"
	}
	m.stepFailures.WithLabelValues(step, class).Inc()
}

func (m *Metrics) setCertsReady(ready bool) {
	if ready {
		m.certsReady.Set(1)
	} else {
		m.certsReady.Set(0)
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteFile writes the metrics in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	m.lastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, m.registry)
}
