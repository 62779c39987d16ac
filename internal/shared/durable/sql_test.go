package durable

import (
	"context"
	"path/filepath"
	"testing"
)

func setupSQLiteStore(t *testing.T) *sqlStore {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?cache=shared&mode=rwc"
	store, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open sqlite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store.(*sqlStore)
}

func seed(t *testing.T, s *sqlStore) {
	stmts := []string{
		`INSERT INTO admins (id, display_name, password_hash) VALUES
			('admin:1', 'Alice', ''),
			('admin:7', 'Bob', 'hash-7'),
			('admin:9', 'Carol', '')`,
		`INSERT INTO conversations (id, admin_id, status) VALUES
			('conv:100', 'admin:7', 'open'),
			('conv:101', 'admin:7', 'open'),
			('conv:102', 'admin:1', 'open'),
			('conv:103', 'admin:7', 'closed'),
			('conv:104', '', 'open')`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB().Exec(stmt); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestConversationsForAdmin(t *testing.T) {
	store := setupSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	ids, err := store.ConversationsForAdmin(ctx, "admin:7")
	if err != nil {
		t.Fatalf("ConversationsForAdmin failed: %v", err)
	}
	// 只含未关闭会话
	if len(ids) != 2 || ids[0] != "conv:100" || ids[1] != "conv:101" {
		t.Errorf("ids = %v, want [conv:100 conv:101]", ids)
	}

	ids, err = store.ConversationsForAdmin(ctx, "admin:9")
	if err != nil {
		t.Fatalf("ConversationsForAdmin failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

func TestAdminForConversation(t *testing.T) {
	store := setupSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	admin, err := store.AdminForConversation(ctx, "conv:100")
	if err != nil {
		t.Fatalf("AdminForConversation failed: %v", err)
	}
	if admin != "admin:7" {
		t.Errorf("admin = %q, want admin:7", admin)
	}

	// 未分配会话与不存在会话都返回空串
	admin, err = store.AdminForConversation(ctx, "conv:104")
	if err != nil || admin != "" {
		t.Errorf("unassigned = %q, %v, want empty, nil", admin, err)
	}
	admin, err = store.AdminForConversation(ctx, "conv:999")
	if err != nil || admin != "" {
		t.Errorf("missing = %q, %v, want empty, nil", admin, err)
	}
}

func TestOpenConversationsAndAdminIDs(t *testing.T) {
	store := setupSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	convs, err := store.OpenConversations(ctx)
	if err != nil {
		t.Fatalf("OpenConversations failed: %v", err)
	}
	if len(convs) != 4 {
		t.Errorf("open conversations = %d, want 4", len(convs))
	}

	admins, err := store.AdminIDs(ctx)
	if err != nil {
		t.Fatalf("AdminIDs failed: %v", err)
	}
	if len(admins) != 3 || admins[0] != "admin:1" {
		t.Errorf("admins = %v, want 3 ascending", admins)
	}
}

func TestAdminByID(t *testing.T) {
	store := setupSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	admin, err := store.AdminByID(ctx, "admin:7")
	if err != nil {
		t.Fatalf("AdminByID failed: %v", err)
	}
	if admin == nil || admin.DisplayName != "Bob" || admin.PasswordHash != "hash-7" {
		t.Errorf("admin = %+v, want Bob with hash-7", admin)
	}

	admin, err = store.AdminByID(ctx, "admin:404")
	if err != nil || admin != nil {
		t.Errorf("missing admin = %+v, %v, want nil, nil", admin, err)
	}
}

func TestOpenUnsupportedURL(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	if err == nil {
		t.Error("Open accepted unsupported URL")
	}
}
