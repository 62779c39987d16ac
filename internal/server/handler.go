// Package server 路由配置
//
// 本文件定义 HTTP API 路由，将请求分发到对应的处理函数。
package server

import (
	"net/http"

	"helpassist/internal/server/auth"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//   - GET /metrics - Prometheus 指标
//   - GET /api/v1/openapi.yaml - OpenAPI 文档
//
// 认证 (Auth):
//   - POST /api/v1/auth/login   - 客服/用户登录
//   - POST /api/v1/auth/visitor - 匿名访客会话
//   - POST /api/v1/auth/logout  - 登出（销毁会话）
//   - GET  /api/v1/auth/me      - 当前会话信息
//
// 会话消息 (Message):
//   - POST /api/v1/conversations/{id}/messages - 发送消息
//   - GET  /api/v1/conversations/{id}/messages - 最近消息历史
//   - POST /api/v1/conversations/{id}/typing   - 输入状态指示（纯广播）
//
// 会话队列 (Queue):
//   - GET    /api/v1/conversations/active        - 活跃会话（按最近活动排序）
//   - GET    /api/v1/conversations/unread        - 未读会话（按优先级+到达时间排序）
//   - GET    /api/v1/conversations/next          - 下一个待分配会话
//   - POST   /api/v1/conversations/{id}/read     - 已读回执
//   - POST   /api/v1/conversations/{id}/assign   - 手动分配
//   - DELETE /api/v1/conversations/{id}/assign   - 解除分配
//   - POST   /api/v1/assignments/auto            - 自动分配
//   - POST   /api/v1/assignments/reconcile       - 以持久层为准校正分配缓存
//
// 客服 (Admin):
//   - POST /api/v1/admins/presence          - 在线状态心跳
//   - GET  /api/v1/admins/{id}/presence     - 查询在线状态
//   - GET  /api/v1/admins/{id}/conversations - 名下会话列表
//   - GET  /api/v1/admins/{id}/workload     - 当前工作量
//   - GET  /api/v1/admins/{id}/dashboard    - 工作台概要（短缓存）
//
// WebSocket:
//   - GET /ws/conversations/{id} - 实时消息推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// OpenAPI 文档
	mux.HandleFunc("GET /api/v1/openapi.yaml", h.OpenAPIDoc)

	// 认证接口
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/visitor", h.VisitorSession)
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)

	// 会话消息接口
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", h.PostMessage)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", h.GetMessages)
	mux.HandleFunc("POST /api/v1/conversations/{id}/typing", h.Typing)

	// 会话队列接口
	mux.HandleFunc("GET /api/v1/conversations/active", auth.AdminOnly(h.ListActive))
	mux.HandleFunc("GET /api/v1/conversations/unread", auth.AdminOnly(h.ListUnread))
	mux.HandleFunc("GET /api/v1/conversations/next", auth.AdminOnly(h.NextConversation))
	mux.HandleFunc("POST /api/v1/conversations/{id}/read", auth.AdminOnly(h.MarkRead))
	mux.HandleFunc("POST /api/v1/conversations/{id}/assign", auth.AdminOnly(h.AssignConversation))
	mux.HandleFunc("DELETE /api/v1/conversations/{id}/assign", auth.AdminOnly(h.UnassignConversation))
	mux.HandleFunc("POST /api/v1/assignments/auto", auth.AdminOnly(h.AutoAssign))
	mux.HandleFunc("POST /api/v1/assignments/reconcile", auth.AdminOnly(h.Reconcile))

	// 客服接口
	mux.HandleFunc("POST /api/v1/admins/presence", auth.AdminOnly(h.PresenceHeartbeat))
	mux.HandleFunc("GET /api/v1/admins/{id}/presence", h.GetPresence)
	mux.HandleFunc("GET /api/v1/admins/{id}/conversations", auth.AdminOnly(h.AdminConversations))
	mux.HandleFunc("GET /api/v1/admins/{id}/workload", auth.AdminOnly(h.AdminWorkload))
	mux.HandleFunc("GET /api/v1/admins/{id}/dashboard", auth.AdminOnly(h.AdminDashboard))

	// WebSocket（HandleWebSocket 阻塞到连接关闭，计数器跟随连接生命周期）
	mux.HandleFunc("GET /ws/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.metrics.WSConnectionsActive.Inc()
		defer h.metrics.WSConnectionsActive.Dec()
		h.gateway.HandleWebSocket(w, r)
	})

	// 中间件链：指标（最外）→ 访问日志 → 认证 → 限流 → 会话续期
	var handler http.Handler = mux
	handler = h.sessionTouchMiddleware(handler)
	handler = h.rateLimitMiddleware(handler)
	handler = auth.Middleware(h.authCfg)(handler)
	handler = h.accessLogMiddleware(handler)
	handler = h.metrics.Middleware(handler)
	return handler
}
