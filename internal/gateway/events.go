package gateway

import (
	"encoding/json"

	"helpassist/internal/shared/model"
)

// 事件类型
const (
	EventNewMessage         = "new_message"
	EventTyping             = "typing_indicator"
	EventMessageRead        = "message_read"
	EventConversationStatus = "conversation_status"
	EventRateLimited        = "rate_limited"
	EventError              = "error"
)

// Event WebSocket 消息信封，双向通用
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

// MessageInput 客户端发送消息的数据部分
type MessageInput struct {
	Body     string `json:"body"`
	Priority string `json:"priority,omitempty"` // urgent | high | normal | low
}

// TypingInput 输入状态的数据部分
type TypingInput struct {
	Typing bool `json:"typing"`
}

// decodePayload 将信封中的 data 解析到目标结构
func decodePayload(data interface{}, out interface{}) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// toPayload 消息快照转为推送数据
func toPayload(m *model.MessageSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"id":          m.ID,
		"sender_id":   m.SenderID,
		"sender_role": m.SenderRole,
		"body":        m.Body,
		"sent_at":     m.SentAt,
	}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Data: map[string]string{"error": msg}}
}
