package job

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts queue operations. A nil *Metrics records nothing.
type Metrics struct {
	dispatched *prometheus.CounterVec
	retried    *prometheus.CounterVec
	failed     *prometheus.CounterVec
}

// NewMetrics registers the job counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_dispatched_total",
			Help: "Total jobs published to an exchange",
		}, []string{"exchange"}),
		retried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_retried_total",
			Help: "Total jobs republished for a delayed retry",
		}, []string{"exchange"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_failed_total",
			Help: "Total jobs reported as permanently failed",
		}, []string{"job_name"}),
	}
}

func (m *Metrics) incDispatched(exchange string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(exchange).Inc()
}

func (m *Metrics) incRetried(exchange string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(exchange).Inc()
}

func (m *Metrics) incFailed(jobName string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(jobName).Inc()
}
