// Package session 用户会话注册表
//
// 每个用户一条哈希记录，TTL 7 天，每次认证请求刷新。
// status 字段是带外撤销开关：封禁只改 status，不动 TTL，
// key 存在与否不能单独作为会话有效的依据。
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"helpassist/internal/shared/keystore"
	"helpassist/internal/shared/model"
)

var (
	// ErrExpired 会话不存在或已过期，调用方应强制重新认证
	ErrExpired = errors.New("session expired")

	// ErrBlocked 会话已封禁，与 TTL 剩余时间无关，硬拒绝
	ErrBlocked = errors.New("session blocked")
)

// Session 会话记录
type Session struct {
	UserID    string              `json:"user_id"`
	DeviceID  string              `json:"device_id"`
	LoginTime time.Time           `json:"login_time"`
	LastSeen  time.Time           `json:"last_seen"`
	Status    model.SessionStatus `json:"status"`
	IPAddress string              `json:"ip_address"`
}

// Registry 会话注册表
type Registry struct {
	store *keystore.Store

	now func() time.Time
}

// NewRegistry 创建会话注册表
func NewRegistry(store *keystore.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Create 登录时创建会话
//
// HSet + Expire 在同一 Pipeline 内执行，不存在"有键无 TTL"的窗口。
func (r *Registry) Create(ctx context.Context, userID, deviceID, ip string, status model.SessionStatus) error {
	key := r.store.Keys().User(userID)
	now := r.now()

	data := map[string]interface{}{
		"device_id":  deviceID,
		"login_time": now.Format(time.RFC3339),
		"last_seen":  now.Format(time.RFC3339),
		"status":     string(status),
		"ip_address": ip,
	}

	err := keystore.Do(ctx, func(ctx context.Context) error {
		pipe := r.store.Client().Pipeline()
		pipe.HSet(ctx, key, data)
		pipe.Expire(ctx, key, keystore.TTLSession)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}

	log.Printf("[Session] Created session: user=%s device=%s status=%s", userID, deviceID, status)
	return nil
}

// Touch 认证请求到达时校验并续期会话
//
// 校验顺序：不存在 → ErrExpired；status == blocked → ErrBlocked
// （即使 TTL 还剩 6 天）；否则更新 last_seen 并把 TTL 重置为完整的 7 天。
func (r *Registry) Touch(ctx context.Context, userID string) (*Session, error) {
	key := r.store.Keys().User(userID)

	var fields map[string]string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := r.store.Client().HGetAll(ctx, key).Result()
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
		return nil, ErrExpired
	}

	sess := parseSession(userID, fields)
	if sess.Status == model.SessionBlocked {
		return nil, ErrBlocked
	}

	now := r.now()
	if err := r.refresh(ctx, key, now); err != nil {
		return nil, err
	}

	sess.LastSeen = now
	return sess, nil
}

// refresh 续期会话：更新 last_seen 并把 TTL 重置为完整窗口
//
// HGetAll 与续期之间键可能刚好过期。事务里的 Exists 守卫兜住
// 这个窗口：HSet 会无条件建键，过期的会话不能被复活成只剩
// last_seen 的残骸，发现建了空壳就删掉并按过期处理。
func (r *Registry) refresh(ctx context.Context, key string, now time.Time) error {
	var exists *redis.IntCmd
	err := keystore.Do(ctx, func(ctx context.Context) error {
		pipe := r.store.Client().TxPipeline()
		exists = pipe.Exists(ctx, key)
		pipe.HSet(ctx, key, "last_seen", now.Format(time.RFC3339))
		pipe.Expire(ctx, key, keystore.TTLSession)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if exists.Val() == 0 {
		r.store.Client().Del(ctx, key)
		return ErrExpired
	}
	return nil
}

// Get 读取会话，不续期不校验（监控/调试用）
func (r *Registry) Get(ctx context.Context, userID string) (*Session, error) {
	key := r.store.Keys().User(userID)

	var fields map[string]string
	err := keystore.Do(ctx, func(ctx context.Context) error {
		result, err := r.store.Client().HGetAll(ctx, key).Result()
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
	return parseSession(userID, fields), nil
}

// SetStatus 带外修改会话状态
//
// 只写 status 字段，绝不触碰 TTL：封禁不能延长会话生命周期，
// 只是关闭访问闸门。key 不存在时 HSet 会创建无 TTL 的孤儿键，
// 所以先确认存在。
func (r *Registry) SetStatus(ctx context.Context, userID string, status model.SessionStatus) error {
	key := r.store.Keys().User(userID)

	return keystore.Do(ctx, func(ctx context.Context) error {
		exists, err := r.store.Client().Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return nil // 会话已过期，无需封禁
		}
		return r.store.Client().HSet(ctx, key, "status", string(status)).Err()
	})
}

// Destroy 登出时显式删除会话
//
// 与 TTL 自然过期不同：本设备即时登出，
// 同一身份的其他设备（各自的 user key）不受影响。
func (r *Registry) Destroy(ctx context.Context, userID string) error {
	key := r.store.Keys().User(userID)

	err := keystore.Do(ctx, func(ctx context.Context) error {
		return r.store.Client().Del(ctx, key).Err()
	})
	if err != nil {
		return err
	}

	log.Printf("[Session] Destroyed session: user=%s", userID)
	return nil
}

// TTL 返回会话剩余生存时间（测试与监控用）
func (r *Registry) TTL(ctx context.Context, userID string) (time.Duration, error) {
	return r.store.Client().TTL(ctx, r.store.Keys().User(userID)).Result()
}

func parseSession(userID string, fields map[string]string) *Session {
	sess := &Session{
		UserID:    userID,
		DeviceID:  fields["device_id"],
		Status:    model.SessionStatus(fields["status"]),
		IPAddress: fields["ip_address"],
	}
	if t, err := time.Parse(time.RFC3339, fields["login_time"]); err == nil {
		sess.LoginTime = t
	}
	if t, err := time.Parse(time.RFC3339, fields["last_seen"]); err == nil {
		sess.LastSeen = t
	}
	return sess
}
