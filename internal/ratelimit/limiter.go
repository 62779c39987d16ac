// Package ratelimit 基于有序集合的分布式限流器
//
// 每个标识（IP 或用户）对应一个有序集合，score 为请求毫秒时间戳。
// 每次检查在同一 Pipeline 里完成：淘汰窗口外成员 → 写入本次请求 →
// 取基数 → 刷新 TTL。集合基数永远不会超过窗口时间范围允许的数量。
//
// 多个 API 进程并发检查同一标识时由 Redis 的单键原子性收敛，
// 进程侧不需要任何互斥。
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"helpassist/internal/shared/keystore"
)

// Decision 单次准入判定结果
//
// 拒绝不是 error：Allow 的错误通道只承载存储不可用，
// 超限通过 Allowed=false + RetryAfter 表达。
type Decision struct {
	Allowed    bool          // 是否放行
	Remaining  int64         // 窗口内剩余额度
	RetryAfter time.Duration // 拒绝时的建议等待时长
}

// Limiter 限流器：同一原语的不同参数实例
type Limiter struct {
	store  *keystore.Store
	policy Policy

	// now 可注入时钟，测试用
	now func() time.Time
}

// New 创建限流器
func New(store *keystore.Store, policy Policy) *Limiter {
	return &Limiter{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// Policy 返回限流策略
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Allow 执行一次准入检查
//
// 存储不可用（含上下文超时）时不返回判定错误，而是按策略的
// FailMode 放行或拒绝，同时返回 keystore.ErrUnavailable 供调用方记日志。
func (l *Limiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - l.policy.Window.Milliseconds()

	key := l.key(identifier)
	member := l.member(nowMs)

	var card *redis.IntCmd
	err := keystore.Do(ctx, func(ctx context.Context) error {
		pipe := l.store.Client().Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", windowStart))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, l.policy.Window)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return Decision{Allowed: l.policy.FailMode == FailOpen}, err
	}

	count := card.Val()
	if count <= l.policy.MaxRequests {
		return Decision{Allowed: true, Remaining: l.policy.MaxRequests - count}, nil
	}

	return Decision{Allowed: false, RetryAfter: l.retryAfter(ctx, key, nowMs)}, nil
}

// key 按模式返回键名
func (l *Limiter) key(identifier string) string {
	if l.policy.Mode == ModeSliding {
		return l.store.Keys().SlidingLimit(identifier)
	}
	return l.store.Keys().RateLimit(identifier)
}

// member 构造集合成员
//
// 固定窗口用纯时间戳字符串；滑动窗口附加 nonce，
// 高速请求在同一毫秒内到达时不会互相覆盖。
func (l *Limiter) member(nowMs int64) string {
	ts := strconv.FormatInt(nowMs, 10)
	if l.policy.Mode == ModeSliding {
		return ts + "-" + uuid.NewString()
	}
	return ts
}

// retryAfter 估算额度恢复时间：最老成员滑出窗口的时刻
func (l *Limiter) retryAfter(ctx context.Context, key string, nowMs int64) time.Duration {
	oldest, err := l.store.Client().ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return l.policy.Window
	}
	wait := int64(oldest[0].Score) + l.policy.Window.Milliseconds() - nowMs
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait) * time.Millisecond
}
