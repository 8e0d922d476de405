package confclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics is optional instrumentation, all methods are nil-receiver
// safe so call sites never have to check whether a registerer was supplied.
type clientMetrics struct {
	renegotiations           prometheus.Counter
	ssrcAllocations          prometheus.Counter
	allocationRetries        prometheus.Counter
	synthesisInconsistencies prometheus.Counter
	resumeAttempts           prometheus.Counter
	stateTransitions         *prometheus.CounterVec
}

func newClientMetrics(registerer prometheus.Registerer) *clientMetrics {
	if registerer == nil {
		return nil
	}
	factory := promauto.With(registerer)
	return &clientMetrics{
		renegotiations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "confclient",
			Name:      "renegotiations_total",
			Help:      "Number of local description rewrite cycles",
		}),
		ssrcAllocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "confclient",
			Name:      "ssrc_allocations_total",
			Help:      "Number of ssrcs allocated",
		}),
		allocationRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "confclient",
			Name:      "ssrc_allocation_retries_total",
			Help:      "Number of ssrc draws rejected because of a collision",
		}),
		synthesisInconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "confclient",
			Name:      "synthesis_inconsistencies_total",
			Help:      "Number of sections left unmodified because no cached ssrc info existed",
		}),
		resumeAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "confclient",
			Name:      "resume_attempts_total",
			Help:      "Number of stream resumption attempts",
		}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confclient",
			Name:      "session_state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
	}
}

func (metrics *clientMetrics) IncRenegotiations() {
	if metrics == nil {
		return
	}
	metrics.renegotiations.Inc()
}

func (metrics *clientMetrics) IncSsrcAllocations() {
	if metrics == nil {
		return
	}
	metrics.ssrcAllocations.Inc()
}

func (metrics *clientMetrics) IncAllocationRetries() {
	if metrics == nil {
		return
	}
	metrics.allocationRetries.Inc()
}

func (metrics *clientMetrics) IncSynthesisInconsistencies() {
	if metrics == nil {
		return
	}
	metrics.synthesisInconsistencies.Inc()
}

func (metrics *clientMetrics) IncResumeAttempts() {
	if metrics == nil {
		return
	}
	metrics.resumeAttempts.Inc()
}

func (metrics *clientMetrics) ObserveStateTransition(from, to SessionState) {
	if metrics == nil {
		return
	}
	metrics.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}
