// Package assignment 会话分配与优先级队列
//
// 三个结构协同工作：
//   - 每客服一个分配集合（工作量缓存，非事实源）
//   - 活跃队列：score = 最后消息时间戳
//   - 未读队列：score = 优先级权重*1e9 + 时间戳
//
// 不变量：出现在未读队列里的会话必然也在活跃队列里（反之不要求）。
// 跨键的写入（分配 = 集合添加 + 活跃队列 upsert）在同一 Pipeline
// 里执行，并发读者不会观察到只更新了一半的状态。
package assignment

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"helpassist/internal/shared/durable"
	"helpassist/internal/shared/keystore"
	"helpassist/internal/shared/model"
)

// Manager 分配与队列管理器
type Manager struct {
	store   *keystore.Store
	durable durable.Store

	now func() time.Time
}

// NewManager 创建管理器
//
// durable 是会话归属的事实源，缓存未命中与对账都从它重建。
func NewManager(store *keystore.Store, db durable.Store) *Manager {
	return &Manager{store: store, durable: db, now: time.Now}
}

// Assign 把会话分配给客服
//
// 集合添加 + 活跃队列 upsert 是一个多键事务，
// 中途崩溃不会让一个结构更新而另一个长期缺失。
func (m *Manager) Assign(ctx context.Context, adminID, conversationID string) error {
	keys := m.store.Keys()
	now := m.now()

	err := keystore.Do(ctx, func(ctx context.Context) error {
		pipe := m.store.Client().TxPipeline()
		pipe.SAdd(ctx, keys.AdminAssignments(adminID), conversationID)
		pipe.Expire(ctx, keys.AdminAssignments(adminID), keystore.TTLAssignments)
		pipe.ZAdd(ctx, keys.ActiveConversations(), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: conversationID,
		})
		pipe.Expire(ctx, keys.ActiveConversations(), keystore.TTLConversations)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}

	log.Printf("[Assignment] Assigned: admin=%s conversation=%s", adminID, conversationID)
	return nil
}

// Unassign 解除分配（改派或关单）
//
// 关单路径同时把会话移出未读队列；活跃队列保留，
// 由 TTL 自然淘汰（历史排序仍有意义）。
func (m *Manager) Unassign(ctx context.Context, adminID, conversationID string) error {
	keys := m.store.Keys()

	err := keystore.Do(ctx, func(ctx context.Context) error {
		pipe := m.store.Client().TxPipeline()
		pipe.SRem(ctx, keys.AdminAssignments(adminID), conversationID)
		pipe.Expire(ctx, keys.AdminAssignments(adminID), keystore.TTLAssignments)
		pipe.ZRem(ctx, keys.UnreadConversations(), conversationID)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}

	log.Printf("[Assignment] Unassigned: admin=%s conversation=%s", adminID, conversationID)
	return nil
}

// TouchActive 新消息到达时刷新会话的活跃时间
func (m *Manager) TouchActive(ctx context.Context, conversationID string) error {
	keys := m.store.Keys()
	now := m.now()

	return keystore.Do(ctx, func(ctx context.Context) error {
		pipe := m.store.Client().Pipeline()
		pipe.ZAdd(ctx, keys.ActiveConversations(), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: conversationID,
		})
		pipe.Expire(ctx, keys.ActiveConversations(), keystore.TTLConversations)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// MarkUnread 未读消息到达时入队
//
// 同时 upsert 活跃队列，维持"未读 ⊆ 活跃"不变量。
// 分数公式只依赖输入，两个进程并发标记同一会话会收敛到同一分数。
func (m *Manager) MarkUnread(ctx context.Context, conversationID string, priority model.Priority) error {
	keys := m.store.Keys()
	now := m.now()

	return keystore.Do(ctx, func(ctx context.Context) error {
		pipe := m.store.Client().TxPipeline()
		pipe.ZAdd(ctx, keys.UnreadConversations(), redis.Z{
			Score:  model.UnreadScore(priority, now),
			Member: conversationID,
		})
		pipe.Expire(ctx, keys.UnreadConversations(), keystore.TTLConversations)
		pipe.ZAdd(ctx, keys.ActiveConversations(), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: conversationID,
		})
		pipe.Expire(ctx, keys.ActiveConversations(), keystore.TTLConversations)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// MarkRead 已读回执：移出未读队列
func (m *Manager) MarkRead(ctx context.Context, conversationID string) error {
	keys := m.store.Keys()

	return keystore.Do(ctx, func(ctx context.Context) error {
		return m.store.Client().ZRem(ctx, keys.UnreadConversations(), conversationID).Err()
	})
}

// Workload 返回客服当前分配的会话数
//
// 分配集合是建议性缓存：集合为空但持久层有未关闭会话时，
// 必须按缓存未命中处理，从事实源重建，而不是当作"没有工作"。
func (m *Manager) Workload(ctx context.Context, adminID string) (int64, error) {
	keys := m.store.Keys()

	var count int64
	err := keystore.Do(ctx, func(ctx context.Context) error {
		n, err := m.store.Client().SCard(ctx, keys.AdminAssignments(adminID)).Result()
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return count, nil
	}

	// 缓存未命中判定：持久层才知道是真没工作还是缓存掉了
	ids, err := m.durable.ConversationsForAdmin(ctx, adminID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := m.rebuildAssignments(ctx, adminID, ids); err != nil {
		return 0, err
	}
	log.Printf("[Assignment] Rebuilt workload cache: admin=%s count=%d", adminID, len(ids))
	return int64(len(ids)), nil
}

// NextForAssignment 取未读队列中分数最高的会话
//
// 返回 ok=false 表示队列为空（none）。
func (m *Manager) NextForAssignment(ctx context.Context) (string, bool, error) {
	keys := m.store.Keys()

	var members []string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := m.store.Client().ZRevRange(ctx, keys.UnreadConversations(), 0, 0).Result()
		if err != nil {
			return err
		}
		members = result
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if len(members) == 0 {
		return "", false, nil
	}
	return members[0], true, nil
}

// ActiveConversations 按最近消息时间倒序返回活跃会话
func (m *Manager) ActiveConversations(ctx context.Context, limit int64) ([]string, error) {
	keys := m.store.Keys()

	var members []string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := m.store.Client().ZRevRange(ctx, keys.ActiveConversations(), 0, limit-1).Result()
		if err != nil {
			return err
		}
		members = result
		return nil
	})
	return members, err
}

// UnreadConversations 按紧急程度倒序返回未读会话
func (m *Manager) UnreadConversations(ctx context.Context, limit int64) ([]string, error) {
	keys := m.store.Keys()

	var members []string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := m.store.Client().ZRevRange(ctx, keys.UnreadConversations(), 0, limit-1).Result()
		if err != nil {
			return err
		}
		members = result
		return nil
	})
	return members, err
}

// Assignments 返回客服分配集合的成员（工作台用）
func (m *Manager) Assignments(ctx context.Context, adminID string) ([]string, error) {
	keys := m.store.Keys()

	var members []string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := m.store.Client().SMembers(ctx, keys.AdminAssignments(adminID)).Result()
		if err != nil {
			return err
		}
		members = result
		return nil
	})
	return members, err
}

// Reconcile 对账：用持久层重写所有客服的分配集合
//
// 崩溃恰好落在分配事务中间时，缓存可能与持久层短暂不一致。
// 对账以持久层为准，整体重写集合。建议由运维周期性触发。
func (m *Manager) Reconcile(ctx context.Context) error {
	convs, err := m.durable.OpenConversations(ctx)
	if err != nil {
		return err
	}

	byAdmin := make(map[string][]string)
	for _, c := range convs {
		if c.AdminID != "" {
			byAdmin[c.AdminID] = append(byAdmin[c.AdminID], c.ID)
		}
	}

	admins, err := m.durable.AdminIDs(ctx)
	if err != nil {
		return err
	}

	for _, adminID := range admins {
		ids := byAdmin[adminID]
		if len(ids) == 0 {
			// 持久层没有工作：清掉可能残留的脏集合
			if err := keystore.Do(ctx, func(ctx context.Context) error {
				return m.store.Client().Del(ctx, m.store.Keys().AdminAssignments(adminID)).Err()
			}); err != nil {
				return err
			}
			continue
		}
		if err := m.rebuildAssignments(ctx, adminID, ids); err != nil {
			return err
		}
	}

	log.Printf("[Assignment] Reconciled %d admins from durable storage", len(admins))
	return nil
}

// rebuildAssignments 整体重写某客服的分配集合
func (m *Manager) rebuildAssignments(ctx context.Context, adminID string, ids []string) error {
	key := m.store.Keys().AdminAssignments(adminID)

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	return keystore.Do(ctx, func(ctx context.Context) error {
		pipe := m.store.Client().TxPipeline()
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, keystore.TTLAssignments)
		_, err := pipe.Exec(ctx)
		return err
	})
}
