// Package metrics exposes the daemon's Prometheus instrumentation. All
// collectors live on the default registry; business packages stay unaware
// of Prometheus and report through the helper functions below or through
// the audit bridge in recorder.go.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)
	httpRequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_http_request_errors_total",
			Help: "Total number of HTTP requests that resulted in a server error.",
		},
		[]string{"handler", "method"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegis_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
	pipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegis_pipeline_stage_duration_seconds",
			Help:    "Query pipeline stage duration in seconds.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)
	policyBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_policy_blocks_total",
			Help: "Total number of results blocked by the sensitive-data policy.",
		},
		[]string{"surface"},
	)
	policyBlockCategoriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_policy_block_categories_total",
			Help: "Sensitive-data categories matched by blocked results.",
		},
		[]string{"category"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_tool_calls_total",
			Help: "Total number of tool invocations by outcome.",
		},
		[]string{"tool", "surface", "outcome"},
	)
	providerPrimaryInvocations = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name:        "aegis_llm_provider_invocations_total",
			Help:        "Successful model invocations by route.",
			ConstLabels: prometheus.Labels{"route": "primary"},
		},
		func() float64 {
			primary, _ := providerCounts()
			return float64(primary)
		},
	)
	providerFallbackInvocations = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name:        "aegis_llm_provider_invocations_total",
			Help:        "Successful model invocations by route.",
			ConstLabels: prometheus.Labels{"route": "fallback"},
		},
		func() float64 {
			_, fallback := providerCounts()
			return float64(fallback)
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestErrorsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(pipelineStageDuration)
	prometheus.MustRegister(policyBlocksTotal)
	prometheus.MustRegister(policyBlockCategoriesTotal)
	prometheus.MustRegister(toolCallsTotal)
	prometheus.MustRegister(providerPrimaryInvocations)
	prometheus.MustRegister(providerFallbackInvocations)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(handler, method, code).Inc()
	if status >= 500 {
		httpRequestErrorsTotal.WithLabelValues(handler, method).Inc()
	}
	httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObservePipelineStage records how long one query pipeline stage took.
func ObservePipelineStage(stage string, duration time.Duration) {
	pipelineStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// CountPolicyBlock records one blocked result together with the matched
// sensitive-data categories.
func CountPolicyBlock(surface string, categories []string) {
	policyBlocksTotal.WithLabelValues(surface).Inc()
	for _, category := range categories {
		policyBlockCategoriesTotal.WithLabelValues(category).Inc()
	}
}

// CountToolCall records the outcome of one tool invocation.
func CountToolCall(tool, surface, outcome string) {
	toolCallsTotal.WithLabelValues(tool, surface, outcome).Inc()
}

var (
	providerSourceMu sync.RWMutex
	providerSource   func() (primary, fallback uint64)
)

// SetProviderStatsSource wires the model gateway's cumulative invocation
// counters into the aegis_llm_provider_invocations_total series. The
// snapshot function is called on every scrape; passing nil detaches the
// source and the series reports zero again.
func SetProviderStatsSource(snapshot func() (primary, fallback uint64)) {
	providerSourceMu.Lock()
	providerSource = snapshot
	providerSourceMu.Unlock()
}

func providerCounts() (uint64, uint64) {
	providerSourceMu.RLock()
	snapshot := providerSource
	providerSourceMu.RUnlock()
	if snapshot == nil {
		return 0, 0
	}
	return snapshot()
}
