// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"helpassist/internal/assignment"
	"helpassist/internal/config"
	"helpassist/internal/dashboard"
	"helpassist/internal/msgcache"
	"helpassist/internal/presence"
	"helpassist/internal/ratelimit"
	"helpassist/internal/server"
	"helpassist/internal/server/auth"
	"helpassist/internal/session"
	"helpassist/internal/shared/durable"
	"helpassist/internal/shared/keystore"
)

// reconcileInterval 分配缓存与持久层的定期对账周期
const reconcileInterval = 5 * time.Minute

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换数据库和 Redis）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化持久层（分配事实源 + 客服账号）
	db, err := durable.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to durable store")

	// 初始化共享 KV 存储（限流、会话、在线状态、队列、消息缓存）
	store, err := keystore.NewStore(cfg.RedisAddr, cfg.RedisAuth, cfg.RedisDB, cfg.KeyPrefix)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer store.Close()
	log.Println("Connected to Redis")

	// 协调原语
	sessions := session.NewRegistry(store)
	tracker := presence.NewTracker(store)
	messages := msgcache.NewCache(store, cfg.Cache.MessageCapacity)
	assigns := assignment.NewManager(store, db)
	balancer := assignment.NewBalancer(assigns, tracker)
	dash := dashboard.NewCache(store, assigns)

	h := server.NewHandler(server.Deps{
		AuthConfig: auth.Config{
			JWTSecret:      cfg.Auth.JWTSecret,
			AccessTokenTTL: cfg.Auth.AccessTokenTTL,
		},
		Sessions:    sessions,
		Presence:    tracker,
		Messages:    messages,
		Assignments: assigns,
		Balancer:    balancer,
		Dashboard:   dash,
		Durable:     db,
		APILimiter:  ratelimit.New(store, policyFrom(ratelimit.APIPolicy(), cfg.RateLimit.API)),
		AuthLimiter: ratelimit.New(store, policyFrom(ratelimit.AuthPolicy(), cfg.RateLimit.Auth)),
	})

	// 启动定期对账（进程重启或缓存丢失后自动重建分配集合）
	go reconcileLoop(ctx, assigns)

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// policyFrom 以内置策略为底，用配置覆盖窗口和额度
func policyFrom(base ratelimit.Policy, pc config.PolicyConfig) ratelimit.Policy {
	if pc.Window > 0 {
		base.Window = pc.Window
	}
	if pc.MaxRequests > 0 {
		base.MaxRequests = pc.MaxRequests
	}
	return base
}

// reconcileLoop 定期以持久层为准重建分配集合缓存
func reconcileLoop(ctx context.Context, assigns *assignment.Manager) {
	// 启动时先跑一轮
	if err := assigns.Reconcile(ctx); err != nil {
		log.Printf("[Reconcile] initial reconcile failed: %v", err)
	}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := assigns.Reconcile(ctx); err != nil {
				log.Printf("[Reconcile] reconcile failed: %v", err)
			}
		}
	}
}
