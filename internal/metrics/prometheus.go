package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ariasync"

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	callDuration  *prom.HistogramVec
	polls         *prom.CounterVec
	submissions   *prom.CounterVec
	resubmissions *prom.CounterVec
	reconciles    *prom.CounterVec
	poolConnected *prom.GaugeVec
	tasks         *prom.GaugeVec
}

// NewPrometheusRecorder builds the collectors and registers them on reg (a fresh
// registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		callDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_call_duration_seconds",
			Help:      "Duration of daemon RPC calls",
			Buckets:   prom.DefBuckets,
		}, []string{"method", "result"}),
		polls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Task status polls by outcome",
		}, []string{"pool", "result"}),
		submissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Task submissions by kind and outcome",
		}, []string{"kind", "result"}),
		resubmissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "resubmissions_total",
			Help:      "Tasks resubmitted after a daemon session change",
		}, []string{"pool"}),
		reconciles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Successful reconciliations, split by whether the session changed",
		}, []string{"pool", "session_changed"}),
		poolConnected: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_connected",
			Help:      "1 when the pool's daemon is reachable",
		}, []string{"pool"}),
		tasks: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tracked tasks by local status",
		}, []string{"status"}),
	}
	reg.MustRegister(pr.callDuration, pr.polls, pr.submissions, pr.resubmissions,
		pr.reconciles, pr.poolConnected, pr.tasks)
	return pr
}

func (p *PrometheusRecorder) ObserveCall(method string, d time.Duration, result string) {
	if p == nil {
		return
	}
	p.callDuration.WithLabelValues(method, result).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPoll(poolID, result string) {
	if p == nil {
		return
	}
	p.polls.WithLabelValues(poolID, result).Inc()
}

func (p *PrometheusRecorder) IncSubmission(kind, result string) {
	if p == nil {
		return
	}
	p.submissions.WithLabelValues(kind, result).Inc()
}

func (p *PrometheusRecorder) IncResubmission(poolID string) {
	if p == nil {
		return
	}
	p.resubmissions.WithLabelValues(poolID).Inc()
}

func (p *PrometheusRecorder) IncReconcile(poolID string, sessionChanged bool) {
	if p == nil {
		return
	}
	p.reconciles.WithLabelValues(poolID, strconv.FormatBool(sessionChanged)).Inc()
}

func (p *PrometheusRecorder) SetPoolConnected(poolID string, connected bool) {
	if p == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	p.poolConnected.WithLabelValues(poolID).Set(v)
}

func (p *PrometheusRecorder) SetTasks(status string, n int) {
	if p == nil {
		return
	}
	p.tasks.WithLabelValues(status).Set(float64(n))
}

// HTTPHandler serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
