package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus collectors for pipeline execution monitoring.
//
// Collectors (namespaced "planforge"):
//   - steps_total (counter): node executions, labeled node/status
//   - step_latency_ms (histogram): node execution duration, labeled node
//   - runs_total (counter): run outcomes, labeled outcome
//     (completed/suspended/error/max_steps)
//   - call_tokens_total (counter): delegated-call token usage, labeled stage
//     and direction (input/output)
//   - call_cost_usd_total (counter): delegated-call spend, labeled stage
//   - call_retries_total (counter): delegated-call retries, labeled stage
//     and reason (malformed/channel)
//
// Expose via promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	steps       *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	callTokens  *prometheus.CounterVec
	callCost    *prometheus.CounterVec
	callRetries *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics with the provided
// registry. Use prometheus.DefaultRegisterer for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		steps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "steps_total",
			Help:      "Node executions by node and status.",
		}, []string{"node", "status"}),
		stepLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "planforge",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node"}),
		runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "runs_total",
			Help:      "Run outcomes.",
		}, []string{"outcome"}),
		callTokens: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "call_tokens_total",
			Help:      "Delegated reasoning call token usage.",
		}, []string{"stage", "direction"}),
		callCost: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "call_cost_usd_total",
			Help:      "Delegated reasoning call spend in USD.",
		}, []string{"stage"}),
		callRetries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "planforge",
			Name:      "call_retries_total",
			Help:      "Delegated reasoning call retries by failure reason.",
		}, []string{"stage", "reason"}),
	}
}

// ObserveStep records one node execution.
func (m *Metrics) ObserveStep(nodeID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.steps.WithLabelValues(nodeID, status).Inc()
	m.stepLatency.WithLabelValues(nodeID).Observe(float64(d.Milliseconds()))
}

// ObserveRun records a run outcome (completed, suspended, error, max_steps).
func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveCall records the usage of one successful delegated call.
func (m *Metrics) ObserveCall(stage string, inputTokens, outputTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.callTokens.WithLabelValues(stage, "input").Add(float64(inputTokens))
	m.callTokens.WithLabelValues(stage, "output").Add(float64(outputTokens))
	m.callCost.WithLabelValues(stage).Add(costUSD)
}

// ObserveCallRetry records one failed delegated-call attempt by reason
// (malformed or channel).
func (m *Metrics) ObserveCallRetry(stage, reason string) {
	if m == nil {
		return
	}
	m.callRetries.WithLabelValues(stage, reason).Inc()
}
