// Package server 提供 HTTP API 处理器
//
// 本包实现支持会话协调层的 RESTful API，包括：
//   - 认证接口（登录 / 访客会话 / 登出）
//   - 会话消息接口（发送 / 历史）
//   - 会话队列接口（活跃 / 未读 / 分配）
//   - 客服在线状态与工作台概要
//   - WebSocket 实时推送入口
//
// 文件组织：
//   - common.go: 通用工具函数和 Handler 定义
//   - handler.go: 路由配置
//   - middleware.go: 限流与会话续期中间件
//   - authapi.go: 认证接口
//   - conversations.go: 会话消息与队列接口
//   - admins.go: 客服状态与工作台接口
//   - metrics.go: Prometheus 指标
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"helpassist/api"
	"helpassist/internal/assignment"
	"helpassist/internal/dashboard"
	"helpassist/internal/gateway"
	"helpassist/internal/msgcache"
	"helpassist/internal/presence"
	"helpassist/internal/ratelimit"
	"helpassist/internal/server/auth"
	"helpassist/internal/session"
	"helpassist/internal/shared/durable"
	"helpassist/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 协调共享 KV 存储上的各协调原语
//   - 托管 WebSocket 网关
//
// 依赖说明：
//   - apiLimiter: 普通接口限流（fail-open）
//   - authLimiter: 认证接口限流（fail-closed，防撞库）
//   - db: 持久层只读视图（分配事实源 + 客服账号）
type Handler struct {
	authCfg  auth.Config
	sessions *session.Registry
	tracker  *presence.Tracker
	messages *msgcache.Cache
	assigns  *assignment.Manager
	balancer *assignment.Balancer
	dash     *dashboard.Cache
	db       durable.Store

	apiLimiter  *ratelimit.Limiter
	authLimiter *ratelimit.Limiter

	gateway   *gateway.Gateway
	metrics   *Metrics
	accessLog *logging.Logger
}

// Deps Handler 依赖集合
type Deps struct {
	AuthConfig  auth.Config
	Sessions    *session.Registry
	Presence    *presence.Tracker
	Messages    *msgcache.Cache
	Assignments *assignment.Manager
	Balancer    *assignment.Balancer
	Dashboard   *dashboard.Cache
	Durable     durable.Store
	APILimiter  *ratelimit.Limiter
	AuthLimiter *ratelimit.Limiter
}

// NewHandler 创建 Handler 实例
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		authCfg:     deps.AuthConfig,
		sessions:    deps.Sessions,
		tracker:     deps.Presence,
		messages:    deps.Messages,
		assigns:     deps.Assignments,
		balancer:    deps.Balancer,
		dash:        deps.Dashboard,
		db:          deps.Durable,
		apiLimiter:  deps.APILimiter,
		authLimiter: deps.AuthLimiter,
	}
	h.gateway = gateway.NewGateway(deps.Sessions, deps.APILimiter, deps.Messages, deps.Assignments)
	h.metrics = NewMetrics("helpassist")
	h.accessLog = logging.Default("api-server")
	return h
}

// Gateway 返回 WebSocket 网关（状态变更推送用）
func (h *Handler) Gateway() *gateway.Gateway {
	return h.gateway
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// generateID 生成带前缀的唯一标识符
//
// 使用加密安全的随机数生成 6 字节（12 个十六进制字符）的 ID，
// 格式为：prefix-xxxxxxxxxxxx
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OpenAPIDoc 返回嵌入的 OpenAPI 文档
//
// 路由: GET /api/v1/openapi.yaml
func (h *Handler) OpenAPIDoc(w http.ResponseWriter, r *http.Request) {
	data, err := api.OpenAPIFS.ReadFile("openapi/helpassist.yaml")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "openapi document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}
