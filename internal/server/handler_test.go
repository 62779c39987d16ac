// Package server 单元测试
//
// 本文件包含 API 处理器的单元测试，主要测试：
//   - 通用工具函数（writeJSON、writeError、generateID、normalizePath）
//   - 请求体解析和验证
//   - HTTP 响应格式
//
// 注意：涉及 Redis 的端到端路由测试在 router_test.go 中进行。
package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testMetrics 全局共享的 Metrics 实例（避免 Prometheus 重复注册 panic）
var testMetrics = NewMetrics("server_test")

// ============================================================================
// 通用函数测试
// ============================================================================

// TestHealthEndpoint 测试健康检查接口
func TestHealthEndpoint(t *testing.T) {
	handler := &Handler{metrics: testMetrics}

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
}

// TestOpenAPIDocEndpoint 测试 OpenAPI 文档接口
func TestOpenAPIDocEndpoint(t *testing.T) {
	handler := &Handler{metrics: testMetrics}

	req := httptest.NewRequest("GET", "/api/v1/openapi.yaml", nil)
	w := httptest.NewRecorder()

	handler.OpenAPIDoc(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %s, want application/yaml", ct)
	}
	if !strings.Contains(w.Body.String(), "openapi: 3.0.3") {
		t.Error("response does not look like an OpenAPI document")
	}
}

// TestWriteJSON 测试 JSON 响应写入
func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"id": "conv-123"})

	if w.Code != http.StatusCreated {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %v, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["id"] != "conv-123" {
		t.Errorf("id = %v, want conv-123", resp["id"])
	}
}

// TestWriteError 测试错误响应格式
func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "body is required")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["error"] != "body is required" {
		t.Errorf("error = %v, want 'body is required'", resp["error"])
	}
}

// TestGenerateID 测试 ID 生成格式和唯一性
func TestGenerateID(t *testing.T) {
	id1 := generateID("visitor")
	id2 := generateID("visitor")

	if !strings.HasPrefix(id1, "visitor-") {
		t.Errorf("id = %q, want visitor- prefix", id1)
	}
	if len(id1) != len("visitor-")+12 {
		t.Errorf("id length = %d, want %d", len(id1), len("visitor-")+12)
	}
	if id1 == id2 {
		t.Error("consecutive IDs should differ")
	}
}

// TestNormalizePath 测试指标路径规范化
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/conversations/active", "/api/v1/conversations/active"},
		{"/api/v1/conversations/unread", "/api/v1/conversations/unread"},
		{"/api/v1/conversations/conv-abc123/messages", "/api/v1/conversations/{id}/messages"},
		{"/api/v1/conversations/conv-abc123", "/api/v1/conversations/{id}"},
		{"/api/v1/admins/presence", "/api/v1/admins/presence"},
		{"/api/v1/admins/admin-7/dashboard", "/api/v1/admins/{id}/dashboard"},
		{"/api/v1/admins/admin-7", "/api/v1/admins/{id}"},
		{"/ws/conversations/conv-1", "/ws/conversations/{id}"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// TestIsAuthRoute 认证路由识别
func TestIsAuthRoute(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/v1/auth/login", true},
		{"/api/v1/auth/visitor", true},
		{"/api/v1/auth/logout", false},
		{"/api/v1/conversations/active", false},
	}
	for _, tt := range tests {
		if got := isAuthRoute(tt.path); got != tt.want {
			t.Errorf("isAuthRoute(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// TestIdentifier 限流标识提取
func TestIdentifier(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/conversations/active", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	if got := identifier(r); got != "ip:192.0.2.10" {
		t.Errorf("identifier = %q, want ip:192.0.2.10", got)
	}
}
