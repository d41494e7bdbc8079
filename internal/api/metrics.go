package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chainverify/verifyd/internal/notify"
)

// jobMetrics exposes job lifecycle counters on /metrics, grounded on the
// teacher's events/metrics.go use of promauto for EventBus counters,
// narrowed to the Job Engine's own lifecycle and driven by subscribing to
// the notify bus rather than being incremented inline by handlers.
type jobMetrics struct {
	submitted prometheus.Counter
	succeeded prometheus.Counter
	failed    *prometheus.CounterVec
}

// newJobMetrics registers counters against reg and, if notifier is
// non-nil, starts a background subscriber that keeps them updated for the
// lifetime of the process. notifier may be nil in tests or when the event
// bus is disabled, in which case the counters simply stay at zero. Each
// Server owns its own registry (rather than promauto's implicit default
// one) so that constructing more than one Server in the same process —
// routine in tests — never hits a duplicate-collector panic.
func newJobMetrics(reg *prometheus.Registry, notifier notify.Bus) *jobMetrics {
	factory := promauto.With(reg)
	m := &jobMetrics{
		submitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verifyd",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total verification jobs submitted.",
		}),
		succeeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verifyd",
			Subsystem: "jobs",
			Name:      "succeeded_total",
			Help:      "Total verification jobs that completed successfully.",
		}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifyd",
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total verification jobs that completed with an error, by error code.",
		}, []string{"error_code"}),
	}

	if notifier != nil {
		events, _ := notifier.Subscribe(32)
		go m.consume(events)
	}
	return m
}

func (m *jobMetrics) consume(events <-chan notify.Event) {
	for event := range events {
		switch event.Type {
		case notify.EventJobSubmitted:
			m.submitted.Inc()
		case notify.EventJobCompleted:
			if event.Status == "failed" {
				m.failed.WithLabelValues(event.ErrorCode).Inc()
			} else {
				m.succeeded.Inc()
			}
		}
	}
}
