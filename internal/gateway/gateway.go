// Package gateway WebSocket 会话网关
//
// 网关提供实时消息推送能力，支持访客与客服双向通信。
// 使用 WebSocket 协议，按会话分房间组织连接。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"helpassist/internal/assignment"
	"helpassist/internal/msgcache"
	"helpassist/internal/ratelimit"
	"helpassist/internal/server/auth"
	"helpassist/internal/session"
	"helpassist/internal/shared/model"
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// historyOnConnect 连接建立时推送的历史消息条数
const historyOnConnect = 20

// Gateway WebSocket 会话网关
//
// 网关负责：
//   - 管理 WebSocket 连接，按会话 ID 分房间
//   - 连接建立时推送最近的消息历史
//   - 接收客户端消息：限流 → 会话续期 → 写入消息缓存 → 更新会话队列 → 广播
//   - 转发输入状态和已读回执
type Gateway struct {
	sessions *session.Registry
	limiter  *ratelimit.Limiter
	messages *msgcache.Cache
	assigns  *assignment.Manager
	rooms    map[string]map[*client]bool // 按会话 ID 索引的客户端连接
	mu       sync.RWMutex
}

// client 单个 WebSocket 连接
// gorilla/websocket 要求同一连接只能有一个并发写入者
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// NewGateway 创建会话网关实例
func NewGateway(sessions *session.Registry, limiter *ratelimit.Limiter, messages *msgcache.Cache, assigns *assignment.Manager) *Gateway {
	return &Gateway{
		sessions: sessions,
		limiter:  limiter,
		messages: messages,
		assigns:  assigns,
		rooms:    make(map[string]map[*client]bool),
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/conversations/{id}
//
// 推送消息格式：
//
//	消息：{"type": "new_message", "conversation_id": "...", "data": {...}}
//	输入状态：{"type": "typing_indicator", "conversation_id": "...", "data": {"user_id": "...", "typing": true}}
//	已读回执：{"type": "message_read", "conversation_id": "...", "data": {"reader_id": "..."}}
//	会话状态：{"type": "conversation_status", "conversation_id": "...", "data": {"status": "..."}}
//
// 客户端消息使用相同的信封格式，心跳为 {"type": "ping"} -> {"type": "pong"}
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		http.Error(w, "conversation_id required", http.StatusBadRequest)
		return
	}

	user := auth.GetAuthUser(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// 连接即活动：续期会话，阻断被封禁的会话
	if _, err := g.sessions.Touch(r.Context(), user.ID); err != nil {
		if errors.Is(err, session.ErrBlocked) {
			http.Error(w, "session blocked", http.StatusForbidden)
			return
		}
		if errors.Is(err, session.ErrExpired) {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		log.Printf("[Gateway] session touch error: %v", err)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] upgrade error: %v", err)
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	g.addClient(conversationID, c)
	defer g.removeClient(conversationID, c)

	log.Printf("[Gateway] client %s connected to conversation %s", user.ID, conversationID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 推送最近历史，断线重连后客户端无需单独调 REST 接口
	g.sendHistory(ctx, c, conversationID)

	go g.pingLoop(ctx, c)
	g.readLoop(ctx, c, user, conversationID)
}

func (g *Gateway) addClient(conversationID string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rooms[conversationID] == nil {
		g.rooms[conversationID] = make(map[*client]bool)
	}
	g.rooms[conversationID][c] = true
}

func (g *Gateway) removeClient(conversationID string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clients, ok := g.rooms[conversationID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(g.rooms, conversationID)
		}
	}
}

// RoomSize 返回指定会话当前的连接数
func (g *Gateway) RoomSize(conversationID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[conversationID])
}

// sendHistory 推送最近的消息历史（从新到旧）
func (g *Gateway) sendHistory(ctx context.Context, c *client, conversationID string) {
	msgs, err := g.messages.Recent(ctx, conversationID, historyOnConnect)
	if err != nil {
		log.Printf("[Gateway] history load error: %v", err)
		return
	}
	for _, m := range msgs {
		if err := c.writeJSON(Event{Type: EventNewMessage, ConversationID: conversationID, Data: toPayload(m)}); err != nil {
			return
		}
	}
}

// pingLoop 每 30s 发送 ping 保持连接
func (g *Gateway) pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// readLoop 读取并分发客户端消息
func (g *Gateway) readLoop(ctx context.Context, c *client, user *auth.AuthUser, conversationID string) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] read error: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.writeJSON(errorEvent("invalid message format"))
			continue
		}

		switch ev.Type {
		case "ping":
			c.writeJSON(map[string]string{"type": "pong"})
		case EventNewMessage:
			g.handleNewMessage(ctx, c, user, conversationID, ev)
		case EventTyping:
			g.handleTyping(ctx, c, user, conversationID, ev)
		case EventMessageRead:
			g.handleMessageRead(ctx, c, user, conversationID)
		default:
			c.writeJSON(errorEvent("unknown event type"))
		}
	}
}

// handleNewMessage 处理客户端发送的新消息
//
// 流程：限流 → 会话续期 → 写入消息缓存 → 刷新活跃队列 →
// 访客消息进入未读队列 → 广播到房间
func (g *Gateway) handleNewMessage(ctx context.Context, c *client, user *auth.AuthUser, conversationID string, ev Event) {
	decision, err := g.limiter.Allow(ctx, "user:"+user.ID)
	if err != nil && !decision.Allowed {
		c.writeJSON(errorEvent("service unavailable"))
		return
	}
	if !decision.Allowed {
		c.writeJSON(Event{Type: EventRateLimited, ConversationID: conversationID, Data: map[string]interface{}{
			"retry_after_ms": decision.RetryAfter.Milliseconds(),
		}})
		return
	}

	if !g.touchSession(ctx, c, user) {
		return
	}

	var in MessageInput
	if err := decodePayload(ev.Data, &in); err != nil || in.Body == "" {
		c.writeJSON(errorEvent("message body required"))
		return
	}

	snapshot := &model.MessageSnapshot{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       user.ID,
		SenderRole:     user.Role,
		Body:           in.Body,
		SentAt:         time.Now().UTC(),
	}

	if err := g.messages.Append(ctx, conversationID, snapshot); err != nil {
		log.Printf("[Gateway] message cache append error: %v", err)
	}
	if err := g.assigns.TouchActive(ctx, conversationID); err != nil {
		log.Printf("[Gateway] touch active error: %v", err)
	}
	if !user.IsAdmin() {
		// 访客消息等待客服处理
		priority := model.ParsePriorityOrDefault(in.Priority)
		if err := g.assigns.MarkUnread(ctx, conversationID, priority); err != nil {
			log.Printf("[Gateway] mark unread error: %v", err)
		}
	}

	g.Broadcast(conversationID, Event{Type: EventNewMessage, ConversationID: conversationID, Data: toPayload(snapshot)})
}

// touchSession 套接字消息的会话续期
//
// 每条带身份的入站消息都续期会话；封禁/过期立即拒绝，
// 其余存储错误不阻断（记日志，连接照常服务）。
func (g *Gateway) touchSession(ctx context.Context, c *client, user *auth.AuthUser) bool {
	if _, err := g.sessions.Touch(ctx, user.ID); err != nil {
		if errors.Is(err, session.ErrBlocked) || errors.Is(err, session.ErrExpired) {
			c.writeJSON(errorEvent("session invalid"))
			return false
		}
		log.Printf("[Gateway] session touch error: %v", err)
	}
	return true
}

// handleTyping 转发输入状态（不落盘，纯广播）
func (g *Gateway) handleTyping(ctx context.Context, c *client, user *auth.AuthUser, conversationID string, ev Event) {
	if !g.touchSession(ctx, c, user) {
		return
	}

	var in TypingInput
	decodePayload(ev.Data, &in)
	g.Broadcast(conversationID, Event{Type: EventTyping, ConversationID: conversationID, Data: map[string]interface{}{
		"user_id": user.ID,
		"typing":  in.Typing,
	}})
}

// handleMessageRead 处理已读回执
// 客服读取后会话离开未读队列，但保留在活跃队列中
func (g *Gateway) handleMessageRead(ctx context.Context, c *client, user *auth.AuthUser, conversationID string) {
	if !g.touchSession(ctx, c, user) {
		return
	}
	if user.IsAdmin() {
		if err := g.assigns.MarkRead(ctx, conversationID); err != nil {
			log.Printf("[Gateway] mark read error: %v", err)
		}
	}
	g.Broadcast(conversationID, Event{Type: EventMessageRead, ConversationID: conversationID, Data: map[string]interface{}{
		"reader_id": user.ID,
	}})
}

// Broadcast 广播事件到指定会话的所有客户端
func (g *Gateway) Broadcast(conversationID string, ev Event) {
	g.mu.RLock()
	clients := make([]*client, 0, len(g.rooms[conversationID]))
	for c := range g.rooms[conversationID] {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(ev); err != nil {
			log.Printf("[Gateway] broadcast error: %v", err)
		}
	}
}

// NotifyStatus 向会话房间推送状态变更（分配、关闭等）
func (g *Gateway) NotifyStatus(conversationID, status string, extra map[string]interface{}) {
	data := map[string]interface{}{"status": status}
	for k, v := range extra {
		data[k] = v
	}
	g.Broadcast(conversationID, Event{Type: EventConversationStatus, ConversationID: conversationID, Data: data})
}
