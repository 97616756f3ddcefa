// Package metrics exports bridge activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can hold one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/module"
)

// Metrics holds the bridge collectors.
type Metrics struct {
	reg prometheus.Registerer

	// Call metrics
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Handle metrics
	HandleEvents *prometheus.CounterVec
	HandlesLive  *prometheus.GaugeVec

	// Failure metrics
	Failures *prometheus.CounterVec

	// Module metrics
	ModuleLoads *prometheus.CounterVec

	namespace string
}

// New registers the collectors with reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reg:       reg,
		namespace: namespace,

		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of dispatched calls",
			},
			[]string{"module", "name", "target", "outcome"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Dispatched call duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"module", "target"},
		),

		HandleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handle_events_total",
				Help:      "Handle lifecycle events by home side",
			},
			[]string{"home", "event"},
		),
		HandlesLive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handles_live",
				Help:      "Live handles by home side",
			},
			[]string{"home"},
		),

		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Reported bridge failures by error kind",
			},
			[]string{"source", "kind"},
		),

		ModuleLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_loads_total",
				Help:      "Module loads by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := errors.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// CallHook returns a dispatcher hook feeding the call collectors.
func (m *Metrics) CallHook() dispatch.CallHook {
	return func(sig *dispatch.Signature, elapsed time.Duration, err error) {
		if m == nil {
			return
		}
		target := sig.Target.String()
		m.Calls.WithLabelValues(sig.Module, sig.Name, target, outcome(err)).Inc()
		m.CallDuration.WithLabelValues(sig.Module, target).Observe(elapsed.Seconds())
	}
}

// LoadHook returns a loader hook feeding the module collectors.
func (m *Metrics) LoadHook() module.LoadHook {
	return func(_ string, kind module.Kind, err error) {
		if m == nil {
			return
		}
		m.ModuleLoads.WithLabelValues(string(kind), outcome(err)).Inc()
	}
}

// HandleObserver returns a table observer for handles homed on home.
func (m *Metrics) HandleObserver(home handle.Side) handle.Observer {
	label := "managed"
	if home != handle.Managed {
		label = "host"
	}
	return handle.ObserverFunc(func(e handle.Event) {
		if m == nil {
			return
		}
		m.HandleEvents.WithLabelValues(label, e.Type.String()).Inc()
		switch e.Type {
		case handle.EventExposed:
			m.HandlesLive.WithLabelValues(label).Inc()
		case handle.EventReleased, handle.EventCollected:
			m.HandlesLive.WithLabelValues(label).Dec()
		}
	})
}

// Failure counts one reported failure.
func (m *Metrics) Failure(source string, err error) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(source, outcome(err)).Inc()
}

// Gauge registers a gauge sampled from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn)
}
