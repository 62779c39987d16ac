// Package server 会话消息与队列接口
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"helpassist/internal/gateway"
	"helpassist/internal/server/auth"
	"helpassist/internal/shared/model"
)

// ============================================================================
// 请求/响应类型
// ============================================================================

type postMessageRequest struct {
	Body     string `json:"body"`
	Priority string `json:"priority,omitempty"` // urgent | high | normal | low
}

type assignRequest struct {
	AdminID string `json:"admin_id"`
}

// ============================================================================
// 消息接口
// ============================================================================

// PostMessage 发送消息
//
// 路由: POST /api/v1/conversations/{id}/messages
//
// REST 入口与 WebSocket 入口语义一致：写入消息缓存、
// 刷新活跃队列、访客消息进入未读队列，并广播给房间内连接。
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	snapshot := &model.MessageSnapshot{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       user.ID,
		SenderRole:     user.Role,
		Body:           req.Body,
		SentAt:         time.Now().UTC(),
	}

	if err := h.messages.Append(r.Context(), conversationID, snapshot); err != nil {
		log.Printf("[Messages] cache append error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	if err := h.assigns.TouchActive(r.Context(), conversationID); err != nil {
		log.Printf("[Messages] touch active error: %v", err)
	}
	if !user.IsAdmin() {
		priority := model.ParsePriorityOrDefault(req.Priority)
		if err := h.assigns.MarkUnread(r.Context(), conversationID, priority); err != nil {
			log.Printf("[Messages] mark unread error: %v", err)
		}
	}
	h.metrics.RecordMessage(user.Role)

	h.gateway.Broadcast(conversationID, gateway.Event{
		Type:           gateway.EventNewMessage,
		ConversationID: conversationID,
		Data:           snapshot,
	})

	writeJSON(w, http.StatusCreated, snapshot)
}

// GetMessages 最近消息历史
//
// 路由: GET /api/v1/conversations/{id}/messages
//
// 查询参数:
//   - limit: 返回数量限制，默认 50，最大为缓存容量
//
// 只服务最近窗口，更早的历史在持久层（协调层不保存全量）。
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	msgs, err := h.messages.Recent(r.Context(), conversationID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

// Typing 输入状态指示
//
// 路由: POST /api/v1/conversations/{id}/typing
//
// 纯广播，不落任何存储。没有 WebSocket 连接的客户端用这个入口。
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req gateway.TypingInput
	json.NewDecoder(r.Body).Decode(&req)

	h.gateway.Broadcast(conversationID, gateway.Event{
		Type:           gateway.EventTyping,
		ConversationID: conversationID,
		Data: map[string]interface{}{
			"user_id": user.ID,
			"typing":  req.Typing,
		},
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// ============================================================================
// 队列接口
// ============================================================================

// ListActive 活跃会话列表（最近活动在前）
//
// 路由: GET /api/v1/conversations/active
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	ids, err := h.assigns.ActiveConversations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list active conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": ids, "count": len(ids)})
}

// ListUnread 未读会话列表（优先级高、等待久的在前）
//
// 路由: GET /api/v1/conversations/unread
func (h *Handler) ListUnread(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	ids, err := h.assigns.UnreadConversations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list unread conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": ids, "count": len(ids)})
}

// NextConversation 下一个待分配会话
//
// 路由: GET /api/v1/conversations/next
//
// 返回未读队列中分数最高的会话，不出队：
// 分配成功与否由后续 assign 调用决定。
func (h *Handler) NextConversation(w http.ResponseWriter, r *http.Request) {
	id, ok, err := h.assigns.NextForAssignment(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pick next conversation")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"conversation_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id})
}

// MarkRead 已读回执
//
// 路由: POST /api/v1/conversations/{id}/read
//
// 会话离开未读队列，保留在活跃队列中。
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	if err := h.assigns.MarkRead(r.Context(), conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	user := auth.GetAuthUser(r.Context())
	h.gateway.Broadcast(conversationID, gateway.Event{
		Type:           gateway.EventMessageRead,
		ConversationID: conversationID,
		Data:           map[string]string{"reader_id": user.ID},
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "marked read"})
}

// AssignConversation 手动分配会话
//
// 路由: POST /api/v1/conversations/{id}/assign
//
// 请求体: {"admin_id": "admin:7"}，省略时分配给当前客服。
func (h *Handler) AssignConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req assignRequest
	json.NewDecoder(r.Body).Decode(&req)
	adminID := req.AdminID
	if adminID == "" {
		adminID = auth.GetAuthUser(r.Context()).ID
	}

	if err := h.assigns.Assign(r.Context(), adminID, conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to assign conversation")
		return
	}

	h.gateway.NotifyStatus(conversationID, "assigned", map[string]interface{}{"admin_id": adminID})
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conversationID, "admin_id": adminID})
}

// UnassignConversation 解除分配
//
// 路由: DELETE /api/v1/conversations/{id}/assign
func (h *Handler) UnassignConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req assignRequest
	json.NewDecoder(r.Body).Decode(&req)
	adminID := req.AdminID
	if adminID == "" {
		adminID = auth.GetAuthUser(r.Context()).ID
	}

	if err := h.assigns.Unassign(r.Context(), adminID, conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unassign conversation")
		return
	}

	h.gateway.NotifyStatus(conversationID, "unassigned", nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "unassigned"})
}

// AutoAssign 自动分配
//
// 路由: POST /api/v1/assignments/auto
//
// 取未读队列中分数最高的会话，已有归属则维持原客服，
// 否则在在线客服中选工作量最低者。
func (h *Handler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	conversationID, adminID, ok, err := h.balancer.AutoAssign(r.Context())
	if err != nil {
		log.Printf("[Assign] auto assign error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to auto assign")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"assigned": false})
		return
	}

	h.gateway.NotifyStatus(conversationID, "assigned", map[string]interface{}{"admin_id": adminID})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assigned":        true,
		"conversation_id": conversationID,
		"admin_id":        adminID,
	})
}

// Reconcile 以持久层为准校正分配缓存
//
// 路由: POST /api/v1/assignments/reconcile
//
// 缓存是可丢弃的工作量视图，分歧时持久层胜出。
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if err := h.assigns.Reconcile(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reconcile assignments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reconciled"})
}
