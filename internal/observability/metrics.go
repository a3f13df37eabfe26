package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nanobot"

type moduleMetrics struct {
	providers        *prometheus.GaugeVec
	providersOffline prometheus.Counter

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	activeSessions    prometheus.Gauge
	sessionBusyTotal  prometheus.Counter
	contextWriteTotal *prometheus.CounterVec

	agentRunTotal     *prometheus.CounterVec
	agentRunDuration  *prometheus.HistogramVec
	agentIterations   prometheus.Histogram
	llmCallTotal      *prometheus.CounterVec
	llmCallDuration   *prometheus.HistogramVec
	rpcRequestTotal   *prometheus.CounterVec
	rpcRequestSeconds *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providers: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "providers",
					Help:      "Registered tool providers by status.",
				},
				[]string{"status"},
			),
			providersOffline: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_offline_total",
					Help:      "Providers marked offline by the liveness sweep.",
				},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_total",
					Help:      "Tool dispatches by tool, route and outcome.",
				},
				[]string{"tool", "route", "outcome"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_duration_seconds",
					Help:      "Tool dispatch duration in seconds by route.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Current active session count.",
				},
			),
			sessionBusyTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_busy_total",
					Help:      "Requests rejected because their session was running another turn.",
				},
			),
			contextWriteTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "context_messages_written_total",
					Help:      "Messages appended to context stores by backend.",
				},
				[]string{"backend"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Agent runs by terminal state.",
				},
				[]string{"state"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run duration in seconds by terminal state.",
					Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"state"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_iterations",
					Help:      "Loop iterations per agent run.",
					Buckets:   prometheus.LinearBuckets(1, 1, 10),
				},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_call_total",
					Help:      "LLM gateway calls by profile and status.",
				},
				[]string{"profile", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "llm_call_duration_seconds",
					Help:      "LLM gateway call duration in seconds by profile.",
					Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"profile"},
			),
			rpcRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rpc_request_total",
					Help:      "Gateway JSON-RPC requests by transport, method and outcome.",
				},
				[]string{"transport", "method", "outcome"},
			),
			rpcRequestSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "rpc_request_duration_seconds",
					Help:      "Gateway JSON-RPC request duration in seconds by method.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"method"},
			),
		}

		prometheus.MustRegister(
			m.providers,
			m.providersOffline,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.activeSessions,
			m.sessionBusyTotal,
			m.contextWriteTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentIterations,
			m.llmCallTotal,
			m.llmCallDuration,
			m.rpcRequestTotal,
			m.rpcRequestSeconds,
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

func SetProviders(online, offline int) {
	m := getMetrics()
	m.providers.WithLabelValues("online").Set(float64(online))
	m.providers.WithLabelValues("offline").Set(float64(offline))
}

func RecordProviderOffline(n int) {
	getMetrics().providersOffline.Add(float64(n))
}

// RecordToolDispatch counts one dispatch; outcome is "success" or the error kind
func RecordToolDispatch(tool, route, outcome string, duration time.Duration) {
	m := getMetrics()
	m.toolDispatchTotal.WithLabelValues(tool, route, outcome).Inc()
	m.toolDispatchDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionBusy() {
	getMetrics().sessionBusyTotal.Inc()
}

func RecordContextWrite(backend string, n int) {
	getMetrics().contextWriteTotal.WithLabelValues(backend).Add(float64(n))
}

func RecordAgentRun(state string, iterations int, duration time.Duration) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(state).Inc()
	m.agentRunDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.agentIterations.Observe(float64(iterations))
}

func RecordLLMCall(profile string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	if profile == "" {
		profile = "default"
	}
	m.llmCallTotal.WithLabelValues(profile, status).Inc()
	m.llmCallDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

func RecordRPCRequest(transport, method, outcome string, duration time.Duration) {
	m := getMetrics()
	m.rpcRequestTotal.WithLabelValues(transport, method, outcome).Inc()
	m.rpcRequestSeconds.WithLabelValues(method).Observe(duration.Seconds())
}
