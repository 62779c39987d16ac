// Package dashboard 客服工作台统计缓存
//
// 每个客服一个计数器哈希，每个刷新周期整体重算并覆盖写入，
// TTL 5 分钟。存储不可用时工作台优雅降级（陈旧或空数据），
// 不影响按键解耦的消息收发路径。
package dashboard

import (
	"context"
	"strconv"
	"time"

	"helpassist/internal/assignment"
	"helpassist/internal/shared/keystore"
)

// Stats 工作台聚合计数
type Stats struct {
	AdminID      string    `json:"admin_id"`
	Assigned     int64     `json:"assigned"`      // 当前分配的会话数
	Unread       int64     `json:"unread"`        // 全局未读会话数
	Active       int64     `json:"active"`        // 全局活跃会话数
	RefreshedAt  time.Time `json:"refreshed_at"`  // 本轮重算时间
}

// Cache 工作台缓存
type Cache struct {
	store   *keystore.Store
	manager *assignment.Manager

	now func() time.Time
}

// NewCache 创建工作台缓存
func NewCache(store *keystore.Store, manager *assignment.Manager) *Cache {
	return &Cache{store: store, manager: manager, now: time.Now}
}

// Refresh 重算并覆盖某客服的统计
//
// Del + HSet + Expire 一个事务：读者看到的要么是上一轮完整结果，
// 要么是本轮完整结果，没有混合状态。
func (c *Cache) Refresh(ctx context.Context, adminID string) (*Stats, error) {
	assigned, err := c.manager.Workload(ctx, adminID)
	if err != nil {
		return nil, err
	}

	keys := c.store.Keys()
	var unread, active int64
	err = keystore.Do(ctx, func(ctx context.Context) error {
		pipe := c.store.Client().Pipeline()
		unreadCmd := pipe.ZCard(ctx, keys.UnreadConversations())
		activeCmd := pipe.ZCard(ctx, keys.ActiveConversations())
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		unread, active = unreadCmd.Val(), activeCmd.Val()
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		AdminID:     adminID,
		Assigned:    assigned,
		Unread:      unread,
		Active:      active,
		RefreshedAt: c.now(),
	}

	key := keys.AdminDashboard(adminID)
	err = keystore.Do(ctx, func(ctx context.Context) error {
		pipe := c.store.Client().TxPipeline()
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"assigned":     stats.Assigned,
			"unread":       stats.Unread,
			"active":       stats.Active,
			"refreshed_at": stats.RefreshedAt.Format(time.RFC3339),
		})
		pipe.Expire(ctx, key, keystore.TTLDashboard)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Get 读取缓存的统计；未命中时返回 nil（调用方触发 Refresh）
func (c *Cache) Get(ctx context.Context, adminID string) (*Stats, error) {
	key := c.store.Keys().AdminDashboard(adminID)

	var fields map[string]string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := c.store.Client().HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		fields = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	stats := &Stats{AdminID: adminID}
	stats.Assigned, _ = strconv.ParseInt(fields["assigned"], 10, 64)
	stats.Unread, _ = strconv.ParseInt(fields["unread"], 10, 64)
	stats.Active, _ = strconv.ParseInt(fields["active"], 10, 64)
	if t, err := time.Parse(time.RFC3339, fields["refreshed_at"]); err == nil {
		stats.RefreshedAt = t
	}
	return stats, nil
}
