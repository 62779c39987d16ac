// Package ratelimit 限流策略定义
package ratelimit

import "time"

// Mode 窗口计数模式
type Mode string

const (
	// ModeFixed 固定窗口：成员为毫秒时间戳字符串
	ModeFixed Mode = "fixed"
	// ModeSliding 滑动窗口：成员带随机 nonce，同一毫秒多请求不碰撞
	ModeSliding Mode = "sliding"
)

// FailMode 存储不可用时的放行策略
//
// 这是显式的爆炸半径设计：读多的接口 fail-open 保可用性，
// 认证类接口 fail-closed 保安全。超时视同不可用，走相同策略。
type FailMode string

const (
	// FailOpen 存储不可用时放行
	FailOpen FailMode = "open"
	// FailClosed 存储不可用时拒绝
	FailClosed FailMode = "closed"
)

// Policy 限流策略
//
// 计数语义为 count-then-reject：被拒绝的请求也计入窗口，
// 重试风暴不会因为拒绝而获得更多额度。
type Policy struct {
	Name        string        `yaml:"name"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int64         `yaml:"max_requests"`
	Mode        Mode          `yaml:"mode"`
	FailMode    FailMode      `yaml:"fail_mode"`
}

// APIPolicy 全站 API 预算：100 次 / 15 分钟，fail-open
func APIPolicy() Policy {
	return Policy{
		Name:        "api",
		Window:      15 * time.Minute,
		MaxRequests: 100,
		Mode:        ModeSliding,
		FailMode:    FailOpen,
	}
}

// AuthPolicy 认证预算：5 次 / 15 分钟，fail-closed
func AuthPolicy() Policy {
	return Policy{
		Name:        "auth",
		Window:      15 * time.Minute,
		MaxRequests: 5,
		Mode:        ModeFixed,
		FailMode:    FailClosed,
	}
}
