// Package metrics declares the proxy's Prometheus instrumentation: request
// counts, chat-cache hit/miss, tool invocation counts and latency, and the
// number of upstream round-trips the tool-calling loop takes per request.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_server_requests_total",
			Help: "Total number of HTTP requests handled by the proxy, by route and status.",
		},
		[]string{"route", "status"},
	)

	ChatCacheResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_server_chat_cache_total",
			Help: "In-flight chat request dedup outcomes.",
		},
		[]string{"result"}, // hit, miss, evicted
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_server_tool_calls_total",
			Help: "Total number of local tool invocations, by tool name and outcome.",
		},
		[]string{"tool", "outcome"}, // outcome: ok, error, unknown
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_server_tool_call_duration_seconds",
			Help:    "Local tool invocation duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"tool"},
	)

	ToolLoopIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "function_server_tool_loop_iterations",
			Help:    "Number of upstream round-trips the tool-calling loop took per chat request.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_server_upstream_request_duration_seconds",
			Help:    "Duration of requests forwarded to the upstream chat completions endpoint.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"status"},
	)
)
