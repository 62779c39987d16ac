// Package server 客服状态与工作台接口
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"helpassist/internal/server/auth"
	"helpassist/internal/shared/model"
)

type presenceRequest struct {
	Status string `json:"status"` // online | away | busy | offline
}

// PresenceHeartbeat 在线状态心跳
//
// 路由: POST /api/v1/admins/presence
//
// 客服端周期性上报，30 分钟无心跳自动回落为 offline。
// 上报 offline 等价于立即删除状态键。
func (h *Handler) PresenceHeartbeat(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := model.ParsePresenceStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid presence status")
		return
	}

	if err := h.tracker.Heartbeat(r.Context(), user.ID, status); err != nil {
		log.Printf("[Presence] heartbeat error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update presence")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"admin_id": user.ID, "status": string(status)})
}

// GetPresence 查询客服在线状态
//
// 路由: GET /api/v1/admins/{id}/presence
//
// 状态键不存在即视为 offline，调用方无需区分两种情况。
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	adminID := r.PathValue("id")

	status, err := h.tracker.Get(r.Context(), adminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get presence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin_id": adminID, "status": string(status)})
}

// AdminConversations 客服名下会话列表
//
// 路由: GET /api/v1/admins/{id}/conversations
func (h *Handler) AdminConversations(w http.ResponseWriter, r *http.Request) {
	adminID := r.PathValue("id")

	ids, err := h.assigns.Assignments(r.Context(), adminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assignments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": ids, "count": len(ids)})
}

// AdminWorkload 客服当前工作量
//
// 路由: GET /api/v1/admins/{id}/workload
//
// 分配集合缓存未命中时从持久层重建后计数。
func (h *Handler) AdminWorkload(w http.ResponseWriter, r *http.Request) {
	adminID := r.PathValue("id")

	load, err := h.assigns.Workload(r.Context(), adminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get workload")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin_id": adminID, "workload": load})
}

// AdminDashboard 工作台概要
//
// 路由: GET /api/v1/admins/{id}/dashboard
//
// 5 分钟短缓存：未命中时现算并回填，读者看到的数据
// 最多落后一个缓存窗口。
func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	adminID := r.PathValue("id")

	stats, err := h.dash.Get(r.Context(), adminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get dashboard")
		return
	}
	if stats == nil {
		stats, err = h.dash.Refresh(r.Context(), adminID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to refresh dashboard")
			return
		}
	}

	h.metrics.SetQueueDepths(int(stats.Unread), int(stats.Active))
	writeJSON(w, http.StatusOK, stats)
}
