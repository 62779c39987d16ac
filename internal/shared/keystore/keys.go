// Package keystore 键命名空间
//
// 所有键位于可配置前缀（默认 "ha:"）下的扁平命名空间，
// 冒号分隔 category:subcategory:identifier 层级。
// 键的生命周期由 TTL 驱动，没有显式的清扫任务：
// 每一条建立逻辑所有权的写入都在同一事务里设置/刷新过期时间。
package keystore

import "time"

// DefaultPrefix 默认键前缀
const DefaultPrefix = "ha:"

// TTL 常量
//
// 与各键的语义绑定，写路径必须在同一 Pipeline 里配对 Expire 调用。
const (
	// TTLSession 用户会话：7 天，每次认证请求刷新
	TTLSession = 7 * 24 * time.Hour
	// TTLPresence 客服在线状态：30 分钟，心跳刷新
	TTLPresence = 30 * time.Minute
	// TTLAssignments 客服分配集合：1 小时，变更时刷新
	TTLAssignments = time.Hour
	// TTLConversations 活跃/未读会话队列：1 小时
	TTLConversations = time.Hour
	// TTLMessages 会话消息缓存：1 小时
	TTLMessages = time.Hour
	// TTLDashboard 客服工作台统计：5 分钟
	TTLDashboard = 5 * time.Minute
)

// Keys 键命名空间构造器
//
// 持有前缀，各组件通过方法拼出完整键名，
// 避免键格式散落在多个包里。
type Keys struct {
	prefix string
}

// NewKeys 创建键构造器，prefix 为空时使用默认前缀
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{prefix: prefix}
}

// Prefix 返回键前缀
func (k Keys) Prefix() string {
	return k.prefix
}

// RateLimit 固定窗口限流集合：ha:rate_limit:{identifier}
func (k Keys) RateLimit(identifier string) string {
	return k.prefix + "rate_limit:" + identifier
}

// SlidingLimit 滑动窗口限流集合：ha:sliding_limit:{identifier}
func (k Keys) SlidingLimit(identifier string) string {
	return k.prefix + "sliding_limit:" + identifier
}

// User 用户会话哈希：ha:user:{user_id}
func (k Keys) User(userID string) string {
	return k.prefix + "user:" + userID
}

// AdminPresence 客服在线状态：ha:admin:{admin_id}:presence
func (k Keys) AdminPresence(adminID string) string {
	return k.prefix + "admin:" + adminID + ":presence"
}

// AdminAssignments 客服分配集合：ha:admin:{admin_id}:assignments
func (k Keys) AdminAssignments(adminID string) string {
	return k.prefix + "admin:" + adminID + ":assignments"
}

// ActiveConversations 活跃会话队列：ha:chat:conversations:active
func (k Keys) ActiveConversations() string {
	return k.prefix + "chat:conversations:active"
}

// UnreadConversations 未读会话队列：ha:chat:conversations:unread
func (k Keys) UnreadConversations() string {
	return k.prefix + "chat:conversations:unread"
}

// ConversationMessages 会话消息缓存：ha:chat:conversation:{id}:messages
func (k Keys) ConversationMessages(conversationID string) string {
	return k.prefix + "chat:conversation:" + conversationID + ":messages"
}

// AdminDashboard 客服工作台统计：ha:chat:admin:dashboard:{admin_id}
func (k Keys) AdminDashboard(adminID string) string {
	return k.prefix + "chat:admin:dashboard:" + adminID
}
