// internal/utils/metrics.go
package utils

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoverlens_analysis_requests_total",
			Help: "Total number of analysis requests received by the coordinator",
		},
		[]string{"origin", "image_mode"},
	)

	AnalysisFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoverlens_analysis_failures_total",
			Help: "Total number of failed analyses by error kind",
		},
		[]string{"origin", "kind"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hoverlens_analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"origin", "outcome"},
	)

	AnalysesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hoverlens_analyses_in_flight",
			Help: "Number of analyses currently running",
		},
	)

	WebSocketClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hoverlens_websocket_clients",
			Help: "Connected WebSocket clients by context kind",
		},
		[]string{"kind"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoverlens_http_requests_total",
			Help: "HTTP requests handled by the coordinator",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hoverlens_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest 记录一次 HTTP 请求
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// AnalysisTimer 跟踪单次分析的耗时与并发数
type AnalysisTimer struct {
	origin string
	start  time.Time
}

// StartAnalysis 开始计时
func StartAnalysis(origin, imageMode string) *AnalysisTimer {
	AnalysisRequests.WithLabelValues(origin, imageMode).Inc()
	AnalysesInFlight.Inc()
	return &AnalysisTimer{origin: origin, start: time.Now()}
}

// Finish 结束计时；kind 为空表示成功
func (t *AnalysisTimer) Finish(kind string) time.Duration {
	AnalysesInFlight.Dec()
	elapsed := time.Since(t.start)
	outcome := "success"
	if kind != "" {
		outcome = "failure"
		AnalysisFailures.WithLabelValues(t.origin, kind).Inc()
	}
	AnalysisDuration.WithLabelValues(t.origin, outcome).Observe(elapsed.Seconds())
	return elapsed
}
