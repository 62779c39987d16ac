package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"helpassist/internal/shared/keystore"
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

// fakeClock 可推进的测试时钟
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFixedWindowScenario(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// 规格场景：user:42，固定窗口 5 次 / 900 秒
	lim := New(store, Policy{
		Name:        "auth",
		Window:      900 * time.Second,
		MaxRequests: 5,
		Mode:        ModeFixed,
		FailMode:    FailClosed,
	})
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	lim.now = clock.Now

	want := []bool{true, true, true, true, true, false}
	for i, allowed := range want {
		clock.Advance(time.Millisecond)
		dec, err := lim.Allow(ctx, "user:42")
		if err != nil {
			t.Fatalf("Allow #%d failed: %v", i+1, err)
		}
		if dec.Allowed != allowed {
			t.Errorf("check #%d: allowed = %v, want %v", i+1, dec.Allowed, allowed)
		}
	}

	// 901 秒后窗口外成员被淘汰，第七次检查放行
	clock.Advance(901 * time.Second)
	dec, err := lim.Allow(ctx, "user:42")
	if err != nil {
		t.Fatalf("Allow after window failed: %v", err)
	}
	if !dec.Allowed {
		t.Error("check after 901s: allowed = false, want true")
	}
}

func TestFixedWindowCountsRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lim := New(store, Policy{
		Name:        "auth",
		Window:      time.Minute,
		MaxRequests: 2,
		Mode:        ModeFixed,
		FailMode:    FailClosed,
	})
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	lim.now = clock.Now

	// 被拒绝的请求同样计数，持续重试不会重新获得额度
	for i := 0; i < 6; i++ {
		clock.Advance(time.Millisecond)
		lim.Allow(ctx, "attacker")
	}
	card, err := store.Client().ZCard(ctx, store.Keys().RateLimit("attacker")).Result()
	if err != nil {
		t.Fatalf("ZCard failed: %v", err)
	}
	if card != 6 {
		t.Errorf("window cardinality = %d, want 6 (rejected attempts counted)", card)
	}

	clock.Advance(time.Millisecond)
	dec, _ := lim.Allow(ctx, "attacker")
	if dec.Allowed {
		t.Error("retry storm request allowed, want denied")
	}
}

func TestSlidingWindowSameMillisecond(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lim := New(store, Policy{
		Name:        "api",
		Window:      time.Minute,
		MaxRequests: 3,
		Mode:        ModeSliding,
		FailMode:    FailOpen,
	})
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	lim.now = clock.Now

	// 同一毫秒内的请求靠 nonce 区分，不会互相覆盖
	results := make([]bool, 0, 4)
	for i := 0; i < 4; i++ {
		dec, err := lim.Allow(ctx, "burst")
		if err != nil {
			t.Fatalf("Allow #%d failed: %v", i+1, err)
		}
		results = append(results, dec.Allowed)
	}

	want := []bool{true, true, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("check #%d: allowed = %v, want %v", i+1, results[i], want[i])
		}
	}
}

func TestSlidingWindowEviction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lim := New(store, Policy{
		Name:        "api",
		Window:      10 * time.Second,
		MaxRequests: 2,
		Mode:        ModeSliding,
		FailMode:    FailOpen,
	})
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	lim.now = clock.Now

	lim.Allow(ctx, "u1")
	clock.Advance(6 * time.Second)
	lim.Allow(ctx, "u1")

	// 第一条记录还在窗口内
	clock.Advance(3 * time.Second)
	dec, _ := lim.Allow(ctx, "u1")
	if dec.Allowed {
		t.Error("third request within window allowed, want denied")
	}

	// 再过 2 秒第一条滑出窗口
	clock.Advance(2 * time.Second)
	dec, _ = lim.Allow(ctx, "u1")
	if !dec.Allowed {
		t.Error("request after oldest slid out denied, want allowed")
	}
}

func TestRetryAfterHint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lim := New(store, Policy{
		Name:        "auth",
		Window:      time.Minute,
		MaxRequests: 1,
		Mode:        ModeFixed,
		FailMode:    FailClosed,
	})
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	lim.now = clock.Now

	lim.Allow(ctx, "u1")
	clock.Advance(10 * time.Second)
	dec, _ := lim.Allow(ctx, "u1")
	if dec.Allowed {
		t.Fatal("second request allowed, want denied")
	}
	// 最老成员在 50 秒后滑出窗口
	if dec.RetryAfter <= 0 || dec.RetryAfter > 50*time.Second {
		t.Errorf("RetryAfter = %v, want (0, 50s]", dec.RetryAfter)
	}
}

func TestFailModes(t *testing.T) {
	// 指向不可达地址的客户端：连接错误走 FailMode 分支
	store, err := keystore.NewStore(getTestRedisAddr(), "", 1, "test:")
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	store.Close() // 关闭后所有操作报错

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	open := New(store, Policy{Name: "api", Window: time.Minute, MaxRequests: 10, Mode: ModeSliding, FailMode: FailOpen})
	dec, err := open.Allow(ctx, "u1")
	if !errors.Is(err, keystore.ErrUnavailable) {
		t.Errorf("fail-open err = %v, want ErrUnavailable", err)
	}
	if !dec.Allowed {
		t.Error("fail-open policy denied during outage, want allowed")
	}

	closed := New(store, Policy{Name: "auth", Window: time.Minute, MaxRequests: 5, Mode: ModeFixed, FailMode: FailClosed})
	dec, err = closed.Allow(ctx, "u1")
	if !errors.Is(err, keystore.ErrUnavailable) {
		t.Errorf("fail-closed err = %v, want ErrUnavailable", err)
	}
	if dec.Allowed {
		t.Error("fail-closed policy allowed during outage, want denied")
	}
}

func TestDefaultPolicies(t *testing.T) {
	api := APIPolicy()
	if api.MaxRequests != 100 || api.Window != 15*time.Minute || api.FailMode != FailOpen {
		t.Errorf("APIPolicy = %+v, want 100/15m fail-open", api)
	}
	auth := AuthPolicy()
	if auth.MaxRequests != 5 || auth.Window != 15*time.Minute || auth.FailMode != FailClosed {
		t.Errorf("AuthPolicy = %+v, want 5/15m fail-closed", auth)
	}
}
