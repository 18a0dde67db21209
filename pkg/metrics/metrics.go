// Package metrics holds the Prometheus instruments for the meeting service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	FragmentsAccepted  prometheus.Counter
	FragmentsDiscarded prometheus.Counter
	Terminations       prometheus.Counter
	TerminationRaces   prometheus.Counter
	SweepsTotal        prometheus.Counter
	SweepErrors        prometheus.Counter
	DispatchEnqueued   prometheus.Counter
	DispatchDropped    prometheus.Counter
	DispatchFailed     prometheus.Counter
	DispatchSucceeded  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FragmentsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "aggregator",
			Name:      "fragments_accepted_total",
			Help:      "Transcript fragments accepted and stored.",
		}),
		FragmentsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "aggregator",
			Name:      "fragments_discarded_total",
			Help:      "Malformed transcript fragments silently discarded.",
		}),
		Terminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "lifecycle",
			Name:      "terminations_total",
			Help:      "Meetings moved to the ended state.",
		}),
		TerminationRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "lifecycle",
			Name:      "termination_races_total",
			Help:      "Termination attempts that found the meeting already ended.",
		}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "reconciler",
			Name:      "sweeps_total",
			Help:      "Abandoned-meeting sweeps executed.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "reconciler",
			Name:      "sweep_errors_total",
			Help:      "Per-meeting failures isolated during sweeps.",
		}),
		DispatchEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "dispatch",
			Name:      "enqueued_total",
			Help:      "Summarization jobs handed to the worker pool.",
		}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Summarization jobs dropped because the queue was full.",
		}),
		DispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "dispatch",
			Name:      "failed_total",
			Help:      "Summarization dispatches that returned an error.",
		}),
		DispatchSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetloop",
			Subsystem: "dispatch",
			Name:      "succeeded_total",
			Help:      "Summarization dispatches accepted by the collaborator.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FragmentsAccepted,
			m.FragmentsDiscarded,
			m.Terminations,
			m.TerminationRaces,
			m.SweepsTotal,
			m.SweepErrors,
			m.DispatchEnqueued,
			m.DispatchDropped,
			m.DispatchFailed,
			m.DispatchSucceeded,
		)
	}

	return m
}

// Nop returns an unregistered set of instruments for tests.
func Nop() *Metrics {
	return New(nil)
}
