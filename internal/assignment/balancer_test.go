package assignment

import (
	"context"
	"testing"

	"helpassist/internal/presence"
	"helpassist/internal/shared/durable"
	"helpassist/internal/shared/model"
)

func TestPickAdminPrefersOnlineLowestWorkload(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	tracker := presence.NewTracker(store)
	balancer := NewBalancer(mgr, tracker)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "admin:1", model.PresenceBusy)
	tracker.Heartbeat(ctx, "admin:2", model.PresenceOnline)
	tracker.Heartbeat(ctx, "admin:3", model.PresenceOnline)
	// admin:4 无心跳 → offline

	mgr.Assign(ctx, "admin:2", "conv:a")
	mgr.Assign(ctx, "admin:2", "conv:b")
	mgr.Assign(ctx, "admin:3", "conv:c")

	picked, ok, err := balancer.PickAdmin(ctx, []string{"admin:1", "admin:2", "admin:3", "admin:4"})
	if err != nil {
		t.Fatalf("PickAdmin failed: %v", err)
	}
	if !ok || picked != "admin:3" {
		t.Errorf("picked = %q (ok=%v), want admin:3 (online, lowest workload)", picked, ok)
	}
}

func TestPickAdminDeterministicTieBreak(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	tracker := presence.NewTracker(store)
	balancer := NewBalancer(mgr, tracker)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "admin:9", model.PresenceOnline)
	tracker.Heartbeat(ctx, "admin:2", model.PresenceOnline)
	tracker.Heartbeat(ctx, "admin:5", model.PresenceOnline)

	// 工作量全为零：并列时按 ID 升序，结果可复现
	for i := 0; i < 3; i++ {
		picked, ok, err := balancer.PickAdmin(ctx, []string{"admin:9", "admin:2", "admin:5"})
		if err != nil {
			t.Fatalf("PickAdmin failed: %v", err)
		}
		if !ok || picked != "admin:2" {
			t.Errorf("picked = %q (ok=%v), want admin:2", picked, ok)
		}
	}
}

func TestPickAdminNoOnlineAdmins(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	tracker := presence.NewTracker(store)
	balancer := NewBalancer(mgr, tracker)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "admin:1", model.PresenceAway)

	_, ok, err := balancer.PickAdmin(ctx, []string{"admin:1", "admin:2"})
	if err != nil {
		t.Fatalf("PickAdmin failed: %v", err)
	}
	if ok {
		t.Error("PickAdmin returned an admin with no one online")
	}
}

func TestAutoAssign(t *testing.T) {
	store := setupTestStore(t)
	db := &fakeDurable{
		admins: []string{"admin:1", "admin:2"},
		conversations: []durable.Conversation{
			{ID: "conv:100", AdminID: "", Status: "open"},
		},
	}
	mgr := NewManager(store, db)
	tracker := presence.NewTracker(store)
	balancer := NewBalancer(mgr, tracker)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "admin:2", model.PresenceOnline)
	mgr.MarkUnread(ctx, "conv:100", model.PriorityUrgent)

	conv, admin, ok, err := balancer.AutoAssign(ctx)
	if err != nil {
		t.Fatalf("AutoAssign failed: %v", err)
	}
	if !ok || conv != "conv:100" || admin != "admin:2" {
		t.Errorf("AutoAssign = (%q, %q, %v), want (conv:100, admin:2, true)", conv, admin, ok)
	}

	load, _ := mgr.Workload(ctx, "admin:2")
	if load != 1 {
		t.Errorf("Workload after AutoAssign = %d, want 1", load)
	}
}

func TestAutoAssignEmptyQueue(t *testing.T) {
	store := setupTestStore(t)
	mgr := NewManager(store, &fakeDurable{})
	balancer := NewBalancer(mgr, presence.NewTracker(store))

	_, _, ok, err := balancer.AutoAssign(context.Background())
	if err != nil {
		t.Fatalf("AutoAssign failed: %v", err)
	}
	if ok {
		t.Error("AutoAssign reported work with an empty unread queue")
	}
}

func TestAutoAssignKeepsExistingOwner(t *testing.T) {
	store := setupTestStore(t)
	db := &fakeDurable{
		admins: []string{"admin:1", "admin:2"},
		conversations: []durable.Conversation{
			{ID: "conv:100", AdminID: "admin:1", Status: "open"},
		},
	}
	mgr := NewManager(store, db)
	tracker := presence.NewTracker(store)
	balancer := NewBalancer(mgr, tracker)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "admin:2", model.PresenceOnline)
	mgr.MarkUnread(ctx, "conv:100", model.PriorityHigh)

	// 已有归属的会话不改派
	conv, admin, ok, err := balancer.AutoAssign(ctx)
	if err != nil {
		t.Fatalf("AutoAssign failed: %v", err)
	}
	if !ok || conv != "conv:100" || admin != "admin:1" {
		t.Errorf("AutoAssign = (%q, %q, %v), want existing owner admin:1", conv, admin, ok)
	}
}
