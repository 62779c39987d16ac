package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"helpassist/internal/shared/keystore"
	"helpassist/internal/shared/model"
)

func getTestRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func setupTestStore(t *testing.T) *keystore.Store {
	store, err := keystore.NewStore(getTestRedisAddr(), "", 1, "test:")
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		store.Client().FlushDB(context.Background())
		store.Close()
	})
	store.Client().FlushDB(context.Background())
	return store
}

func TestHeartbeatAndGet(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	// 未上报过的客服是 offline
	status, err := tracker.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if status != model.PresenceOffline {
		t.Errorf("status = %v, want offline (missing key)", status)
	}

	for _, want := range []model.PresenceStatus{model.PresenceOnline, model.PresenceAway, model.PresenceBusy} {
		if err := tracker.Heartbeat(ctx, "a1", want); err != nil {
			t.Fatalf("Heartbeat(%v) failed: %v", want, err)
		}
		status, err = tracker.Get(ctx, "a1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if status != want {
			t.Errorf("status = %v, want %v", status, want)
		}
	}
}

func TestHeartbeatRefreshesTTL(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "a1", model.PresenceOnline); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	ttl, err := tracker.TTL(ctx, "a1")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 29*time.Minute || ttl > 30*time.Minute {
		t.Errorf("TTL = %v, want ~30m", ttl)
	}
}

func TestOfflineHeartbeatDeletesKey(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "a1", model.PresenceOnline)
	if err := tracker.Heartbeat(ctx, "a1", model.PresenceOffline); err != nil {
		t.Fatalf("Heartbeat(offline) failed: %v", err)
	}

	exists, _ := store.Client().Exists(ctx, store.Keys().AdminPresence("a1")).Result()
	if exists != 0 {
		t.Error("offline heartbeat left the presence key behind")
	}

	status, err := tracker.Get(ctx, "a1")
	if err != nil || status != model.PresenceOffline {
		t.Errorf("Get = %v, %v, want offline, nil", status, err)
	}
}

func TestGetUnknownValue(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	// 存储里的脏值按离线处理
	store.Client().Set(ctx, store.Keys().AdminPresence("a1"), "lunch", time.Minute)

	status, err := tracker.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if status != model.PresenceOffline {
		t.Errorf("status = %v, want offline for unknown stored value", status)
	}
}
