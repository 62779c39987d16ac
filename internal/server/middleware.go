package server

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"helpassist/internal/server/auth"
	"helpassist/internal/session"
	"helpassist/internal/shared/keystore"
)

// accessLogMiddleware 结构化访问日志中间件
//
// 健康检查和指标端点的轮询不记日志。
func (h *Handler) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.accessLog == nil || isExemptRoute(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		h.accessLog.HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), host)
	})
}

// isAuthRoute 认证接口使用更严格的限流策略
func isAuthRoute(path string) bool {
	return strings.HasPrefix(path, "/api/v1/auth/login") ||
		strings.HasPrefix(path, "/api/v1/auth/visitor")
}

// isExemptRoute 健康检查和指标端点不做限流
func isExemptRoute(path string) bool {
	return path == "/health" || path == "/metrics"
}

// identifier 限流标识：已认证请求按用户，否则按客户端 IP
func identifier(r *http.Request) string {
	if user := auth.GetAuthUser(r.Context()); user != nil {
		return "user:" + user.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// rateLimitMiddleware 请求限流中间件
//
// 认证路由走 fail-closed 策略（防撞库），其余走 fail-open 策略。
// 存储不可用时 Allow 按策略 FailMode 给出判定并返回
// keystore.ErrUnavailable，这里只记日志不改判定。
func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExemptRoute(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		limiter := h.apiLimiter
		if isAuthRoute(r.URL.Path) {
			limiter = h.authLimiter
		}

		id := identifier(r)
		decision, err := limiter.Allow(r.Context(), id)
		if err != nil {
			if errors.Is(err, keystore.ErrUnavailable) {
				log.Printf("[RateLimit] store unavailable, fail mode applied: id=%s allowed=%v", id, decision.Allowed)
				h.metrics.RateLimitStoreErrors.Inc()
			}
		}
		if !decision.Allowed {
			h.metrics.RateLimitRejected.WithLabelValues(limiter.Policy().Name).Inc()
			seconds := int(decision.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sessionTouchMiddleware 认证请求的会话续期中间件
//
// 每个带身份的请求把会话 TTL 重置为完整窗口。
// 封禁的会话即使 TTL 未过期也立即拒绝。
// 登录/访客接口此时还没有会话，登出接口自己处理销毁。
func (h *Handler) sessionTouchMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetAuthUser(r.Context())
		if user == nil || isAuthRoute(r.URL.Path) || r.URL.Path == "/api/v1/auth/logout" {
			next.ServeHTTP(w, r)
			return
		}

		if _, err := h.sessions.Touch(r.Context(), user.ID); err != nil {
			switch {
			case errors.Is(err, session.ErrBlocked):
				writeError(w, http.StatusForbidden, "session blocked")
				return
			case errors.Is(err, session.ErrExpired):
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			default:
				// 存储故障不阻断请求，JWT 本身仍然有效
				log.Printf("[Session] touch failed: user=%s err=%v", user.ID, err)
			}
		}

		next.ServeHTTP(w, r)
	})
}
