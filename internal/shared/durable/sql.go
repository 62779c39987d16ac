// Package durable SQL 驱动实现（PostgreSQL / SQLite）
//
// 两种方言共用同一张 conversations 表结构，查询语句限定在
// 两者交集的 SQL 子集内，占位符用 $N（modernc/sqlite 两者都接受）。
package durable

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlStore database/sql 实现
type sqlStore struct {
	db *sql.DB
}

// openSQL 打开 SQL 连接并确保表结构存在
func openSQL(driver, dsn string) (Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Durable] Connected via %s driver", driver)
	return &sqlStore{db: db}, nil
}

// migrate 建立最小表结构（已存在则跳过）
func migrate(db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS admins (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			admin_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_admin ON conversations (admin_id)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) ConversationsForAdmin(ctx context.Context, adminID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE admin_id = $1 AND status = 'open' ORDER BY id`, adminID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations for admin: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlStore) AdminForConversation(ctx context.Context, conversationID string) (string, error) {
	var adminID string
	err := s.db.QueryRowContext(ctx,
		`SELECT admin_id FROM conversations WHERE id = $1`, conversationID).Scan(&adminID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query conversation owner: %w", err)
	}
	return adminID, nil
}

func (s *sqlStore) OpenConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_id, status FROM conversations WHERE status = 'open' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.AdminID, &c.Status); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *sqlStore) AdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM admins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlStore) AdminByID(ctx context.Context, adminID string) (*Admin, error) {
	var a Admin
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, password_hash FROM admins WHERE id = $1`, adminID).
		Scan(&a.ID, &a.DisplayName, &a.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query admin: %w", err)
	}
	return &a, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// DB 返回底层连接（测试播种数据用）
func (s *sqlStore) DB() *sql.DB {
	return s.db
}
