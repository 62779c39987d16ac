// Package presence 客服在线状态跟踪
//
// 每个客服一个短 TTL 字符串键。key 不存在即 offline，
// 崩溃断连无需任何显式下线写入——这是用短 TTL 字符串
// 而非持久化行的原因。
//
// 客服端需要周期性心跳（建议每几分钟一次，远小于 30 分钟 TTL），
// 或在状态切换时立即上报。
package presence

import (
	"context"
	"time"

	"helpassist/internal/shared/keystore"
	"helpassist/internal/shared/model"
)

// Tracker 在线状态跟踪器
type Tracker struct {
	store *keystore.Store
}

// NewTracker 创建跟踪器
func NewTracker(store *keystore.Store) *Tracker {
	return &Tracker{store: store}
}

// Heartbeat 上报在线状态并刷新 TTL
//
// 上报 offline 直接删键：缺失即离线，不留冗余状态。
func (t *Tracker) Heartbeat(ctx context.Context, adminID string, status model.PresenceStatus) error {
	key := t.store.Keys().AdminPresence(adminID)

	return keystore.Do(ctx, func(ctx context.Context) error {
		if status == model.PresenceOffline {
			return t.store.Client().Del(ctx, key).Err()
		}
		return t.store.Client().Set(ctx, key, string(status), keystore.TTLPresence).Err()
	})
}

// Get 查询在线状态，key 不存在等价于 offline
func (t *Tracker) Get(ctx context.Context, adminID string) (model.PresenceStatus, error) {
	key := t.store.Keys().AdminPresence(adminID)

	var raw string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		val, err := t.store.Client().Get(ctx, key).Result()
		if err != nil {
			return err
		}
		raw = val
		return nil
	})
	if keystore.IsMiss(err) {
		return model.PresenceOffline, nil
	}
	if err != nil {
		return model.PresenceOffline, err
	}

	status, err := model.ParsePresenceStatus(raw)
	if err != nil {
		// 存储里出现未知值按离线处理，不向上传播脏数据
		return model.PresenceOffline, nil
	}
	return status, nil
}

// TTL 返回状态剩余生存时间（测试用）
func (t *Tracker) TTL(ctx context.Context, adminID string) (time.Duration, error) {
	return t.store.Client().TTL(ctx, t.store.Keys().AdminPresence(adminID)).Result()
}
