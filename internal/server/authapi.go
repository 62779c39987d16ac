// Package server 认证接口
package server

import (
	"encoding/json"
	"log"
	"net"
	"net/http"

	"helpassist/internal/server/auth"
	"helpassist/internal/shared/model"
)

// ============================================================================
// 请求/响应类型
// ============================================================================

type loginRequest struct {
	AdminID  string `json:"admin_id"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type visitorRequest struct {
	DeviceID string `json:"device_id"`
}

type authResponse struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
}

// ============================================================================
// Handlers
// ============================================================================

// Login 客服登录
//
// 路由: POST /api/v1/auth/login
//
// 凭据校验走持久层的客服账号表（bcrypt 哈希比对），
// 通过后在共享 KV 存储创建 7 天 TTL 的会话并签发访问令牌。
// 本路由挂在 fail-closed 限流策略后面：存储不可用时拒绝登录。
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AdminID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "admin_id and password are required")
		return
	}

	admin, err := h.db.AdminByID(r.Context(), req.AdminID)
	if err != nil {
		log.Printf("[auth.login] AdminByID error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if admin == nil || !auth.CheckPassword(req.Password, admin.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := h.sessions.Create(r.Context(), admin.ID, req.DeviceID, clientIP(r), model.SessionLogin); err != nil {
		log.Printf("[auth.login] session create error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.metrics.SessionsCreated.Inc()

	token, err := auth.GenerateAccessToken(h.authCfg, admin.ID, auth.RoleAdmin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Printf("[auth] Admin logged in: %s", admin.ID)
	writeJSON(w, http.StatusOK, authResponse{UserID: admin.ID, Role: auth.RoleAdmin, AccessToken: token})
}

// VisitorSession 创建匿名访客会话
//
// 路由: POST /api/v1/auth/visitor
//
// 访客没有凭据，服务端生成访客 ID 并签发令牌。
// 会话状态为 anonymous，后续可被带外封禁。
func (h *Handler) VisitorSession(w http.ResponseWriter, r *http.Request) {
	var req visitorRequest
	// 请求体可为空
	json.NewDecoder(r.Body).Decode(&req)

	visitorID := generateID("visitor")
	if err := h.sessions.Create(r.Context(), visitorID, req.DeviceID, clientIP(r), model.SessionAnonymous); err != nil {
		log.Printf("[auth.visitor] session create error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.metrics.SessionsCreated.Inc()

	token, err := auth.GenerateAccessToken(h.authCfg, visitorID, auth.RoleVisitor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{UserID: visitorID, Role: auth.RoleVisitor, AccessToken: token})
}

// Logout 登出
//
// 路由: POST /api/v1/auth/logout
//
// 显式删除本设备会话，同一身份其他设备不受影响。
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.sessions.Destroy(r.Context(), user.ID); err != nil {
		log.Printf("[auth.logout] session destroy error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to destroy session")
		return
	}
	h.metrics.SessionsDestroyed.Inc()

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me 当前会话信息
//
// 路由: GET /api/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := h.sessions.Get(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   sess.UserID,
		"role":      user.Role,
		"status":    sess.Status,
		"last_seen": sess.LastSeen,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
