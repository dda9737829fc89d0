package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentTurnTotal    *prometheus.CounterVec
	agentTurnDuration *prometheus.HistogramVec
	agentIterations   *prometheus.HistogramVec

	providerStreamDuration *prometheus.HistogramVec
	providerTokensTotal    *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	confirmationTotal     *prometheus.CounterVec

	contextPruneTotal *prometheus.CounterVec
	contextMessages   prometheus.Gauge

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	storedSessions      prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turn_total",
					Help: "Total agent chat turns by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			agentTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Agent chat turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentIterations: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_iterations",
					Help:    "Model turns consumed per chat by provider.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
				},
				[]string{"provider"},
			),
			providerStreamDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_stream_duration_seconds",
					Help:    "Provider stream duration in seconds by provider and status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider", "status"},
			),
			providerTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_tokens_total",
					Help: "Tokens reported by providers by direction.",
				},
				[]string{"provider", "direction"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			confirmationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_confirmation_total",
					Help: "Confirmation decisions for unsafe tool calls.",
				},
				[]string{"decision"},
			),
			contextPruneTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "context_prune_total",
					Help: "Budgeted view pruning passes by stage.",
				},
				[]string{"stage"},
			),
			contextMessages: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "context_view_messages",
					Help: "Message count of the most recent budgeted view.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessions_stored",
					Help: "Number of session files seen by the last listing.",
				},
			),
		}

		prometheus.MustRegister(
			m.agentTurnTotal,
			m.agentTurnDuration,
			m.agentIterations,
			m.providerStreamDuration,
			m.providerTokensTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.confirmationTotal,
			m.contextPruneTotal,
			m.contextMessages,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.storedSessions,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordAgentTurn records one Chat invocation. outcome is done, error or max_iterations.
func RecordAgentTurn(provider, outcome string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentTurnTotal.WithLabelValues(provider, outcome).Inc()
	m.agentTurnDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentIterations.WithLabelValues(provider).Observe(float64(iterations))
}

func RecordProviderStream(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerStreamDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

func RecordProviderTokens(provider string, prompt, completion int) {
	m := getMetrics()
	m.providerTokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	m.providerTokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// RecordConfirmation counts a decision: approved, denied, auto or unavailable.
func RecordConfirmation(decision string) {
	getMetrics().confirmationTotal.WithLabelValues(decision).Inc()
}

func RecordContextPrune(stage string) {
	getMetrics().contextPruneTotal.WithLabelValues(stage).Inc()
}

func SetContextViewSize(messages int) {
	getMetrics().contextMessages.Set(float64(messages))
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func SetStoredSessions(count int) {
	getMetrics().storedSessions.Set(float64(count))
}
