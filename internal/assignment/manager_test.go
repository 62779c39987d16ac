package assignment

import (
	"context"
	"os"
	"testing"
	"time"

	"helpassist/internal/shared/durable"
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

// fakeDurable 持久层桩实现
type fakeDurable struct {
	conversations []durable.Conversation
	admins        []string
}

func (f *fakeDurable) ConversationsForAdmin(ctx context.Context, adminID string) ([]string, error) {
	var ids []string
	for _, c := range f.conversations {
		if c.AdminID == adminID && c.Status == "open" {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (f *fakeDurable) AdminForConversation(ctx context.Context, conversationID string) (string, error) {
	for _, c := range f.conversations {
		if c.ID == conversationID {
			return c.AdminID, nil
		}
	}
	return "", nil
}

func (f *fakeDurable) OpenConversations(ctx context.Context) ([]durable.Conversation, error) {
	var open []durable.Conversation
	for _, c := range f.conversations {
		if c.Status == "open" {
			open = append(open, c)
		}
	}
	return open, nil
}

func (f *fakeDurable) AdminIDs(ctx context.Context) ([]string, error) {
	return f.admins, nil
}

func (f *fakeDurable) AdminByID(ctx context.Context, adminID string) (*durable.Admin, error) {
	return nil, nil
}

func (f *fakeDurable) Close() error { return nil }

func TestAssignWorkloadScenario(t *testing.T) {
	store := setupTestStore(t)
	db := &fakeDurable{}
	mgr := NewManager(store, db)
	ctx := context.Background()

	// 规格场景：admin:7 分配两个会话后工作量为 2，解除一个后为 1
	if err := mgr.Assign(ctx, "admin:7", "conv:100"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := mgr.Assign(ctx, "admin:7", "conv:101"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	load, err := mgr.Workload(ctx, "admin:7")
	if err != nil {
		t.Fatalf("Workload failed: %v", err)
	}
	if load != 2 {
		t.Errorf("Workload = %d, want 2", load)
	}

	if err := mgr.Unassign(ctx, "admin:7", "conv:100"); err != nil {
		t.Fatalf("Unassign failed: %v", err)
	}
	load, err = mgr.Workload(ctx, "admin:7")
	if err != nil {
		t.Fatalf("Workload failed: %v", err)
	}
	if load != 1 {
		t.Errorf("Workload = %d, want 1", load)
	}
}

func TestAssignUpsertsActiveQueue(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	ctx := context.Background()

	if err := mgr.Assign(ctx, "admin:7", "conv:100"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	// 分配是多键事务：活跃队列必须同时出现该会话
	score, err := store.Client().ZScore(ctx, store.Keys().ActiveConversations(), "conv:100").Result()
	if err != nil {
		t.Fatalf("conversation missing from active queue: %v", err)
	}
	if score <= 0 {
		t.Errorf("active score = %v, want positive epoch", score)
	}
}

func TestPriorityOrdering(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	ctx := context.Background()

	// 三个会话按 low, urgent, normal 顺序在 t1<t2<t3 标记未读，
	// 消费时 urgent 永远在最前，与时间顺序无关
	base := time.UnixMilli(1_700_000_000_000)
	times := []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)}
	marks := []struct {
		conv     string
		priority model.Priority
	}{
		{"conv:low", model.PriorityLow},
		{"conv:urgent", model.PriorityUrgent},
		{"conv:normal", model.PriorityNormal},
	}
	for i, mk := range marks {
		mgr.now = func() time.Time { return times[i] }
		if err := mgr.MarkUnread(ctx, mk.conv, mk.priority); err != nil {
			t.Fatalf("MarkUnread(%s) failed: %v", mk.conv, err)
		}
	}

	next, ok, err := mgr.NextForAssignment(ctx)
	if err != nil {
		t.Fatalf("NextForAssignment failed: %v", err)
	}
	if !ok || next != "conv:urgent" {
		t.Errorf("next = %q (ok=%v), want conv:urgent", next, ok)
	}

	order, err := mgr.UnreadConversations(ctx, 10)
	if err != nil {
		t.Fatalf("UnreadConversations failed: %v", err)
	}
	want := []string{"conv:urgent", "conv:normal", "conv:low"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("unread[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestUnreadImpliesActive(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	ctx := context.Background()

	if err := mgr.MarkUnread(ctx, "conv:1", model.PriorityNormal); err != nil {
		t.Fatalf("MarkUnread failed: %v", err)
	}

	// 不变量：未读队列成员必然也在活跃队列
	if err := store.Client().ZScore(ctx, store.Keys().ActiveConversations(), "conv:1").Err(); err != nil {
		t.Errorf("unread conversation missing from active queue: %v", err)
	}
}

func TestMarkReadRemovesFromUnread(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	ctx := context.Background()

	mgr.MarkUnread(ctx, "conv:1", model.PriorityHigh)
	if err := mgr.MarkRead(ctx, "conv:1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	_, ok, err := mgr.NextForAssignment(ctx)
	if err != nil {
		t.Fatalf("NextForAssignment failed: %v", err)
	}
	if ok {
		t.Error("unread queue not empty after MarkRead")
	}

	// 活跃队列不受已读回执影响
	if err := store.Client().ZScore(ctx, store.Keys().ActiveConversations(), "conv:1").Err(); err != nil {
		t.Errorf("conversation missing from active queue after MarkRead: %v", err)
	}
}

func TestActiveOrderingByRecency(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i, conv := range []string{"conv:a", "conv:b", "conv:c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		mgr.now = func() time.Time { return at }
		if err := mgr.TouchActive(ctx, conv); err != nil {
			t.Fatalf("TouchActive failed: %v", err)
		}
	}

	// 老会话收到新消息后排到最前
	mgr.now = func() time.Time { return base.Add(time.Hour) }
	mgr.TouchActive(ctx, "conv:a")

	order, err := mgr.ActiveConversations(ctx, 10)
	if err != nil {
		t.Fatalf("ActiveConversations failed: %v", err)
	}
	want := []string{"conv:a", "conv:c", "conv:b"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("active[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestWorkloadCacheMissRebuild(t *testing.T) {
	store := setupTestStore(t)
	db := &fakeDurable{
		conversations: []durable.Conversation{
			{ID: "conv:100", AdminID: "admin:7", Status: "open"},
			{ID: "conv:101", AdminID: "admin:7", Status: "open"},
			{ID: "conv:102", AdminID: "admin:7", Status: "closed"},
		},
	}
	mgr := NewManager(store, db)
	ctx := context.Background()

	// 缓存为空但持久层有未关闭会话：按缓存未命中重建，不是"没有工作"
	load, err := mgr.Workload(ctx, "admin:7")
	if err != nil {
		t.Fatalf("Workload failed: %v", err)
	}
	if load != 2 {
		t.Errorf("Workload = %d, want 2 (rebuilt from durable)", load)
	}

	members, err := mgr.Assignments(ctx, "admin:7")
	if err != nil {
		t.Fatalf("Assignments failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("assignment set = %v, want 2 members", members)
	}

	// 持久层也没有工作时返回 0，不无限重建
	load, err = mgr.Workload(ctx, "admin:9")
	if err != nil || load != 0 {
		t.Errorf("Workload(admin:9) = %d, %v, want 0, nil", load, err)
	}
}

func TestReconcile(t *testing.T) {
	store := setupTestStore(t)
	db := &fakeDurable{
		admins: []string{"admin:1", "admin:7"},
		conversations: []durable.Conversation{
			{ID: "conv:100", AdminID: "admin:7", Status: "open"},
			{ID: "conv:101", AdminID: "admin:1", Status: "open"},
		},
	}
	mgr := NewManager(store, db)
	ctx := context.Background()

	// 人为制造脏缓存：崩溃遗留的错误分配
	mgr.Assign(ctx, "admin:1", "conv:100")
	mgr.Assign(ctx, "admin:1", "conv:999")

	if err := mgr.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// 对账后持久层胜出
	members, _ := mgr.Assignments(ctx, "admin:1")
	if len(members) != 1 || members[0] != "conv:101" {
		t.Errorf("admin:1 assignments = %v, want [conv:101]", members)
	}
	members, _ = mgr.Assignments(ctx, "admin:7")
	if len(members) != 1 || members[0] != "conv:100" {
		t.Errorf("admin:7 assignments = %v, want [conv:100]", members)
	}
}
