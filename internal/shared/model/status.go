// Package model 定义协调层核心数据模型
//
// status.go 包含封闭枚举类型定义：
//   - SessionStatus：用户会话状态
//   - PresenceStatus：客服在线状态
//   - Priority：会话优先级
//
// 所有状态在 API 边界用封闭枚举建模而非自由字符串，
// Parse 函数对非法输入返回错误，避免拼写类 bug 进入存储层。
package model

import (
	"fmt"
	"time"
)

// ============================================================================
// SessionStatus - 用户会话状态
// ============================================================================

// SessionStatus 表示用户会话的访问状态
//
// 状态说明：
//   - login：已登录的注册用户
//   - anonymous：匿名访客会话
//   - blocked：已封禁，TTL 未过期也必须拒绝访问
//
// blocked 是带外写入的撤销标记：封禁用户时只改 status 字段，
// 不等待 TTL 过期，下一次请求即刻生效。
type SessionStatus string

const (
	// SessionLogin 已登录的注册用户
	SessionLogin SessionStatus = "login"

	// SessionAnonymous 匿名访客
	SessionAnonymous SessionStatus = "anonymous"

	// SessionBlocked 已封禁：立即拒绝访问，与 TTL 剩余时间无关
	SessionBlocked SessionStatus = "blocked"
)

// ParseSessionStatus 解析会话状态字符串
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(s) {
	case SessionLogin, SessionAnonymous, SessionBlocked:
		return SessionStatus(s), nil
	}
	return "", fmt.Errorf("invalid session status: %q", s)
}

// ============================================================================
// PresenceStatus - 客服在线状态
// ============================================================================

// PresenceStatus 表示客服自报的可用状态
//
// 状态说明：
//   - online：在线，可接收新会话分配
//   - away：暂时离开
//   - busy：忙碌，不参与自动分配
//   - offline：离线
//
// offline 不落盘：key 不存在即视为 offline，
// 避免崩溃时漏写显式下线状态。
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// ParsePresenceStatus 解析在线状态字符串
func ParsePresenceStatus(s string) (PresenceStatus, error) {
	switch PresenceStatus(s) {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
		return PresenceStatus(s), nil
	}
	return "", fmt.Errorf("invalid presence status: %q", s)
}

// ============================================================================
// Priority - 会话优先级
// ============================================================================

// Priority 表示未读会话的优先级档位
//
// 档位权重：urgent=1000, high=100, normal=10, low=1。
// 未读队列分数 = 权重*1e9 + 毫秒时间戳，
// 同档位内按到达时间排序，跨档位严格按权重排序。
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityWeights 档位到权重的映射
var priorityWeights = map[Priority]int64{
	PriorityUrgent: 1000,
	PriorityHigh:   100,
	PriorityNormal: 10,
	PriorityLow:    1,
}

// Weight 返回优先级权重，未知档位按 normal 处理
func (p Priority) Weight() int64 {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityNormal]
}

// ParsePriority 解析优先级字符串
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

// ParsePriorityOrDefault 解析优先级字符串，空值或未知档位返回 normal
func ParsePriorityOrDefault(s string) Priority {
	if p, err := ParsePriority(s); err == nil {
		return p
	}
	return PriorityNormal
}

// UnreadScore 计算未读队列排序分数
//
// 公式：weight*1e9 + epochMillis。分数只由输入决定，
// 并发写同一会话时各写入方计算结果一致，收敛到相同终态。
func UnreadScore(p Priority, at time.Time) float64 {
	return float64(p.Weight())*1e9 + float64(at.UnixMilli())
}
