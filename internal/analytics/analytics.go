// Package analytics exposes the loop's outcome counters as Prometheus
// metrics. Every completed or failed decision cycle and every enacted dose
// increments exactly one counter.
package analytics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the loop outcome counters
type Metrics struct {
	loopSuccess prometheus.Counter
	loopError   *prometheus.CounterVec
	tempBasals  prometheus.Counter
	boluses     prometheus.Counter
}

// New registers the counters on the given registerer. Pass
// prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		loopSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "glucoloop_loop_success_total",
			Help: "Completed decision cycles.",
		}),
		loopError: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "glucoloop_loop_error_total",
			Help: "Failed decision cycles by error kind.",
		}, []string{"kind"}),
		tempBasals: factory.NewCounter(prometheus.CounterOpts{
			Name: "glucoloop_temp_basal_enacted_total",
			Help: "Temp basal commands acknowledged by the pump.",
		}),
		boluses: factory.NewCounter(prometheus.CounterOpts{
			Name: "glucoloop_bolus_enacted_total",
			Help: "Bolus commands acknowledged by the pump.",
		}),
	}
}

// RecordLoopSuccess counts a completed decision cycle
func (m *Metrics) RecordLoopSuccess() {
	m.loopSuccess.Inc()
}

// RecordLoopError counts a failed decision cycle
func (m *Metrics) RecordLoopError(kind string) {
	m.loopError.WithLabelValues(kind).Inc()
}

// RecordTempBasalEnacted counts an acknowledged temp basal
func (m *Metrics) RecordTempBasalEnacted() {
	m.tempBasals.Inc()
}

// RecordBolusEnacted counts an acknowledged bolus
func (m *Metrics) RecordBolusEnacted() {
	m.boluses.Inc()
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
