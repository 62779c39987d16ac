// Package keystore 存储层领域错误与重试边界
//
// 错误隔离原则：业务层不感知 go-redis 的错误类型。
// 瞬时错误在本层重试一次（短退避），仍失败则统一包装为
// ErrUnavailable 上抛；缓存未命中（redis.Nil / 空结果）不是错误。
package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable 存储不可达
	// 调用方按各自操作的 fail-open / fail-closed 策略处理
	ErrUnavailable = errors.New("key store unavailable")
)

// retryBackoff 单次重试前的退避时长
const retryBackoff = 50 * time.Millisecond

// IsMiss 判断是否为缓存未命中
//
// 未命中是定义良好的预期状态，调用方回退到持久存储，
// 绝不能与 ErrUnavailable 混为一谈。
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Do 在重试边界内执行一次存储操作
//
// 瞬时错误重试一次；上下文取消/超时不重试（调用方的截止时间优先）。
// 最终失败包装为 ErrUnavailable。
func Do(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ErrUnavailable, ctxErr)
	}

	select {
	case <-ctx.Done():
		return errors.Join(ErrUnavailable, ctx.Err())
	case <-time.After(retryBackoff):
	}

	if err = op(ctx); err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return errors.Join(ErrUnavailable, err)
}
