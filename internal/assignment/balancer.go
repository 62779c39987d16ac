// Package assignment 分配均衡
package assignment

import (
	"context"
	"log"

	"helpassist/internal/presence"
	"helpassist/internal/shared/model"
)

// Balancer 在候选客服中挑选下一个接单者
//
// 规则：只考虑 presence == online 的客服，取工作量最低者；
// 工作量并列时按客服 ID 升序决出，保证结果可复现。
type Balancer struct {
	manager  *Manager
	presence *presence.Tracker
}

// NewBalancer 创建均衡器
func NewBalancer(manager *Manager, tracker *presence.Tracker) *Balancer {
	return &Balancer{manager: manager, presence: tracker}
}

// PickAdmin 从候选列表挑选客服，无在线客服时 ok=false
func (b *Balancer) PickAdmin(ctx context.Context, adminIDs []string) (string, bool, error) {
	best := ""
	var bestLoad int64

	for _, adminID := range adminIDs {
		status, err := b.presence.Get(ctx, adminID)
		if err != nil {
			return "", false, err
		}
		if status != model.PresenceOnline {
			continue
		}

		load, err := b.manager.Workload(ctx, adminID)
		if err != nil {
			return "", false, err
		}

		if best == "" || load < bestLoad || (load == bestLoad && adminID < best) {
			best, bestLoad = adminID, load
		}
	}

	if best == "" {
		return "", false, nil
	}
	return best, true, nil
}

// AutoAssign 取未读队列头部会话并分配给最合适的在线客服
//
// 返回 ok=false 表示没有待分配会话或没有在线客服。
// 已有归属的会话不改派，只跳过（留在未读队列里等已读回执摘除）。
func (b *Balancer) AutoAssign(ctx context.Context) (conversationID, adminID string, ok bool, err error) {
	conversationID, ok, err = b.manager.NextForAssignment(ctx)
	if err != nil || !ok {
		return "", "", false, err
	}

	owner, err := b.manager.durable.AdminForConversation(ctx, conversationID)
	if err != nil {
		return "", "", false, err
	}
	if owner != "" {
		return conversationID, owner, true, nil
	}

	admins, err := b.manager.durable.AdminIDs(ctx)
	if err != nil {
		return "", "", false, err
	}

	adminID, ok, err = b.PickAdmin(ctx, admins)
	if err != nil || !ok {
		return "", "", false, err
	}

	if err := b.manager.Assign(ctx, adminID, conversationID); err != nil {
		return "", "", false, err
	}

	log.Printf("[Assignment] Auto-assigned: conversation=%s admin=%s", conversationID, adminID)
	return conversationID, adminID, true, nil
}
