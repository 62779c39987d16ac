// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 API 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 限流指标
	RateLimitRejected    *prometheus.CounterVec
	RateLimitStoreErrors prometheus.Counter

	// 会话指标
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter

	// 消息指标
	MessagesTotal *prometheus.CounterVec

	// 队列指标
	UnreadConversations prometheus.Gauge
	ActiveConversations prometheus.Gauge

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
}

// NewMetrics 创建指标实例
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		RateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Requests rejected by rate limiter",
			},
			[]string{"policy"},
		),
		RateLimitStoreErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_store_errors_total",
				Help:      "Rate limit checks that hit an unavailable store",
			},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total sessions created",
			},
		),
		SessionsDestroyed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_destroyed_total",
				Help:      "Total sessions explicitly destroyed",
			},
		),
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total chat messages by sender role",
			},
			[]string{"role"},
		),
		UnreadConversations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unread_conversations",
				Help:      "Conversations currently waiting in the unread queue",
			},
		),
		ActiveConversations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_conversations",
				Help:      "Conversations with recent activity",
			},
		),
		WSConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
	}
}

// Middleware 创建 HTTP 指标中间件
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，将 ID 替换为占位符，避免高基数
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/conversations/") &&
		path != "/api/v1/conversations/active" &&
		path != "/api/v1/conversations/unread" &&
		path != "/api/v1/conversations/next":
		if i := strings.Index(path[len("/api/v1/conversations/"):], "/"); i >= 0 {
			return "/api/v1/conversations/{id}" + path[len("/api/v1/conversations/")+i:]
		}
		return "/api/v1/conversations/{id}"
	case strings.HasPrefix(path, "/api/v1/admins/") && path != "/api/v1/admins/presence":
		if i := strings.Index(path[len("/api/v1/admins/"):], "/"); i >= 0 {
			return "/api/v1/admins/{id}" + path[len("/api/v1/admins/")+i:]
		}
		return "/api/v1/admins/{id}"
	case strings.HasPrefix(path, "/ws/conversations/"):
		return "/ws/conversations/{id}"
	default:
		return path
	}
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetQueueDepths 设置队列深度指标
func (m *Metrics) SetQueueDepths(unread, active int) {
	m.UnreadConversations.Set(float64(unread))
	m.ActiveConversations.Set(float64(active))
}

// RecordMessage 记录一条聊天消息
func (m *Metrics) RecordMessage(role string) {
	m.MessagesTotal.WithLabelValues(role).Inc()
}
