// Package metrics exposes reminder tick and delivery counters in Prometheus
// format. Each Registry owns its collectors so tests never share state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mindfulbot/internal/reminder"
)

const namespace = "mindfulbot"

// Registry implements reminder.Recorder.
type Registry struct {
	reg *prometheus.Registry

	ticks      *prometheus.CounterVec
	tickDur    prometheus.Histogram
	lastTick   prometheus.Gauge
	dispatches *prometheus.CounterVec
	checked    prometheus.Counter
	due        prometheus.Counter
}

var _ reminder.Recorder = (*Registry)(nil)

// New builds a registry. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "ticks_total",
			Help:      "Reminder ticks by result (ok, error, skipped).",
		}, []string{"result"}),
		tickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one reminder tick.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last completed tick.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "dispatches_total",
			Help:      "Per-user dispatch outcomes.",
		}, []string{"outcome"}),
		checked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "profiles_checked_total",
			Help:      "Profiles evaluated by the due-check.",
		}),
		due: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "profiles_due_total",
			Help:      "Profiles whose reminder time matched the tick.",
		}),
	}
	r.reg.MustRegister(r.ticks, r.tickDur, r.lastTick, r.dispatches, r.checked, r.due)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	// Pre-create label values so dashboards see zeros before the first event.
	for _, o := range []string{
		reminder.OutcomeSent, reminder.OutcomeAlreadySent, reminder.OutcomeFailed,
		reminder.OutcomeInvalid, reminder.OutcomeCanceled, reminder.OutcomeForced,
	} {
		r.dispatches.WithLabelValues(o)
	}
	return r
}

func (r *Registry) ObserveTick(rep reminder.TickReport, took time.Duration, err error) {
	switch {
	case rep.Skipped:
		r.ticks.WithLabelValues("skipped").Inc()
		return
	case err != nil:
		r.ticks.WithLabelValues("error").Inc()
	default:
		r.ticks.WithLabelValues("ok").Inc()
	}
	r.tickDur.Observe(took.Seconds())
	r.lastTick.SetToCurrentTime()
	r.checked.Add(float64(rep.Checked))
	r.due.Add(float64(rep.Due))
}

func (r *Registry) IncDispatch(outcome string) {
	r.dispatches.WithLabelValues(outcome).Inc()
}

// Gatherer is the underlying registry, for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
