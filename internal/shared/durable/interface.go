// Package durable 持久层只读视图
//
// 关系库（用户/话题/消息全量表）在协调层之外，本包只暴露
// 缓存重建与分配均衡需要的最小查询面：会话→客服外键是
// 唯一事实源，Redis 里的分配集合只是可丢弃的工作量缓存。
//
// 设计原则：依赖倒置。调用方只依赖 Store 接口，
// 具体驱动在 Open 时按连接串前缀选择：
//   - postgres:// / postgresql:// → pgx
//   - file: / sqlite:             → modernc.org/sqlite
//   - mongodb:// / mongodb+srv:// → mongo-driver
package durable

import "context"

// Conversation 持久化会话行的投影
type Conversation struct {
	ID      string `json:"id" bson:"_id" db:"id"`
	AdminID string `json:"admin_id,omitempty" bson:"admin_id,omitempty" db:"admin_id"`
	Status  string `json:"status" bson:"status" db:"status"`
}

// Admin 客服账号行的投影，登录校验用
type Admin struct {
	ID           string `json:"id" bson:"_id" db:"id"`
	DisplayName  string `json:"display_name" bson:"display_name" db:"display_name"`
	PasswordHash string `json:"-" bson:"password_hash" db:"password_hash"`
}

// Store 持久层查询接口
type Store interface {
	// ConversationsForAdmin 返回某客服名下所有未关闭会话 ID
	ConversationsForAdmin(ctx context.Context, adminID string) ([]string, error)

	// AdminForConversation 返回会话归属的客服 ID，未分配时为空串
	AdminForConversation(ctx context.Context, conversationID string) (string, error)

	// OpenConversations 返回所有未关闭会话
	OpenConversations(ctx context.Context) ([]Conversation, error)

	// AdminIDs 返回所有客服 ID（分配均衡的候选集）
	AdminIDs(ctx context.Context) ([]string, error)

	// AdminByID 返回客服账号，不存在时为 nil
	AdminByID(ctx context.Context, adminID string) (*Admin, error)

	Close() error
}
