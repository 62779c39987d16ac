// Package model 定义协调层核心数据模型
//
// message.go 包含消息快照定义。快照是消息缓存层的序列化单元，
// 只承载重连补历史所需的最小字段，不是持久化消息的完整形态。
package model

import (
	"encoding/json"
	"time"
)

// MessageSnapshot 消息快照
//
// 字段说明：
//   - ID：消息唯一标识（UUID）
//   - ConversationID：所属会话
//   - SenderID：发送者（用户或客服）
//   - SenderRole：发送者角色（"user" / "admin"）
//   - Body：消息正文
//   - SentAt：发送时间
type MessageSnapshot struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// Encode 序列化为 JSON
func (m *MessageSnapshot) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessageSnapshot 从 JSON 反序列化
func DecodeMessageSnapshot(data []byte) (*MessageSnapshot, error) {
	var m MessageSnapshot
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
