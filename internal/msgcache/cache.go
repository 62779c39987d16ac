// Package msgcache 会话最近消息缓存
//
// 每个会话一个列表，新消息压入头部，恒定裁剪到固定容量。
// 这是重连补历史的加速层，不是消息的事实源：
// 列表为空是合法的可恢复状态，调用方回退到持久化历史。
package msgcache

import (
	"context"
	"time"

	"helpassist/internal/shared/keystore"
	"helpassist/internal/shared/model"
)

// DefaultCapacity 默认缓存容量
const DefaultCapacity = 100

// Cache 消息缓存
type Cache struct {
	store    *keystore.Store
	capacity int64
}

// NewCache 创建消息缓存，capacity <= 0 时使用默认容量
func NewCache(store *keystore.Store, capacity int64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{store: store, capacity: capacity}
}

// Append 追加消息快照
//
// LPush + LTrim + Expire 在同一 Pipeline 里执行：
// 高写入速率下裁剪也绝不会被跳过，列表不可能无界增长。
func (c *Cache) Append(ctx context.Context, conversationID string, snapshot *model.MessageSnapshot) error {
	data, err := snapshot.Encode()
	if err != nil {
		return err
	}
	key := c.store.Keys().ConversationMessages(conversationID)

	return keystore.Do(ctx, func(ctx context.Context) error {
		pipe := c.store.Client().TxPipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, c.capacity-1)
		pipe.Expire(ctx, key, keystore.TTLMessages)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Recent 返回最近的消息快照，新的在前
//
// 顺序严格按插入顺序（到达单调），绝不按内容重排。
// 解析失败的条目跳过而不是中断：缓存层的脏数据不应拖垮补历史。
func (c *Cache) Recent(ctx context.Context, conversationID string, limit int64) ([]*model.MessageSnapshot, error) {
	if limit <= 0 || limit > c.capacity {
		limit = c.capacity
	}
	key := c.store.Keys().ConversationMessages(conversationID)

	var raw []string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := c.store.Client().LRange(ctx, key, 0, limit-1).Result()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	snapshots := make([]*model.MessageSnapshot, 0, len(raw))
	for _, item := range raw {
		m, err := model.DecodeMessageSnapshot([]byte(item))
		if err != nil {
			continue
		}
		snapshots = append(snapshots, m)
	}
	return snapshots, nil
}

// Len 返回缓存中的消息数（测试与监控用）
func (c *Cache) Len(ctx context.Context, conversationID string) (int64, error) {
	return c.store.Client().LLen(ctx, c.store.Keys().ConversationMessages(conversationID)).Result()
}

// TTL 返回缓存剩余生存时间（测试用）
func (c *Cache) TTL(ctx context.Context, conversationID string) (time.Duration, error) {
	return c.store.Client().TTL(ctx, c.store.Keys().ConversationMessages(conversationID)).Result()
}
