// Package keystore 共享键值存储客户端
//
// 协调层所有组件（限流、会话、在线状态、分配队列、消息缓存）
// 都通过本包访问同一个 Redis 实例。多个无状态 API 进程之间
// 没有进程内锁，全部协调依赖存储端的原子原语和 Pipeline 事务。
package keystore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 键值存储客户端
type Store struct {
	client *redis.Client
	keys   Keys
}

// NewStore 创建存储客户端
func NewStore(addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[KeyStore] Connected to %s", addr)
	return &Store{client: client, keys: NewKeys(prefix)}, nil
}

// NewStoreFromURL 从 URL 创建存储客户端
func NewStoreFromURL(redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[KeyStore] Connected to %s", opts.Addr)
	return &Store{client: client, keys: NewKeys(prefix)}, nil
}

// NewStoreFromClient 从现有 Redis 客户端创建存储客户端（测试用）
func NewStoreFromClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, keys: NewKeys(prefix)}
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}

// Keys 返回键命名空间构造器
func (s *Store) Keys() Keys {
	return s.keys
}
