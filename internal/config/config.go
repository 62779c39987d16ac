// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig 持久层连接配置
//
// Driver 可选 postgres / sqlite / mongodb；
// 密码只从 DB_PASSWORD 环境变量读取，YAML 中不存储。
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	DB        int    `yaml:"db"`
	Password  string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
	KeyPrefix string `yaml:"key_prefix"`
}

// RateLimitConfig 限流策略参数
type RateLimitConfig struct {
	API  PolicyConfig `yaml:"api"`
	Auth PolicyConfig `yaml:"auth"`
}

type PolicyConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int64         `yaml:"max_requests"`
}

// UnmarshalYAML 支持 "15m" 形式的时间窗口
func (p *PolicyConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Window      string `yaml:"window"`
		MaxRequests int64  `yaml:"max_requests"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid rate limit window %q: %w", raw.Window, err)
		}
		p.Window = d
	}
	if raw.MaxRequests > 0 {
		p.MaxRequests = raw.MaxRequests
	}
	return nil
}

// AuthConfig 认证配置
// JWTSecret 只从 JWT_SECRET 环境变量读取
type AuthConfig struct {
	JWTSecret      string        `yaml:"-"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

func (a *AuthConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AccessTokenTTL string `yaml:"access_token_ttl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.AccessTokenTTL != "" {
		d, err := time.ParseDuration(raw.AccessTokenTTL)
		if err != nil {
			return fmt.Errorf("invalid access_token_ttl %q: %w", raw.AccessTokenTTL, err)
		}
		a.AccessTokenTTL = d
	}
	return nil
}

// CacheConfig 消息缓存参数
type CacheConfig struct {
	MessageCapacity int64 `yaml:"message_capacity"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env         Environment
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	RedisAuth   string
	KeyPrefix   string
	APIPort     string
	RateLimit   RateLimitConfig
	Auth        AuthConfig
	Cache       CacheConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	dbPassword := getEnv("DB_PASSWORD", "")
	yamlCfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")

	cfg := &Config{
		Env:         env,
		DatabaseURL: getEnv("DATABASE_URL", buildDatabaseURL(yamlCfg.Database, dbPassword)),
		RedisAddr:   getEnv("REDIS_ADDR", fmt.Sprintf("%s:%d", yamlCfg.Redis.Host, yamlCfg.Redis.Port)),
		RedisDB:     yamlCfg.Redis.DB,
		RedisAuth:   getEnv("REDIS_PASSWORD", ""),
		KeyPrefix:   yamlCfg.Redis.KeyPrefix,
		APIPort:     getEnv("API_PORT", yamlCfg.Server.Port),
		RateLimit:   yamlCfg.RateLimit,
		Auth:        yamlCfg.Auth,
		Cache:       yamlCfg.Cache,
	}

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "helpassist", Name: "helpassist", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0, KeyPrefix: "ha:"},
		RateLimit: RateLimitConfig{
			API:  PolicyConfig{Window: 15 * time.Minute, MaxRequests: 100},
			Auth: PolicyConfig{Window: 15 * time.Minute, MaxRequests: 5},
		},
		Auth:  AuthConfig{AccessTokenTTL: 15 * time.Minute},
		Cache: CacheConfig{MessageCapacity: 100},
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildDatabaseURL 根据驱动类型构建数据库连接字符串
func buildDatabaseURL(db DatabaseConfig, password string) string {
	switch detectDatabaseDriver(db.Driver, db.URI) {
	case "sqlite":
		dbPath := db.Path
		if dbPath == "" {
			dbPath = "/var/lib/helpassist/helpassist.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath)
	case "mongodb":
		if db.URI != "" {
			return db.URI
		}
		if db.User != "" && password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", db.User, password, db.Host, db.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", db.Host, db.Port)
	default: // postgres
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, password, db.Host, db.Port, db.Name, db.SSLMode)
	}
}

// detectDatabaseDriver 检测数据库驱动类型
// 优先级：YAML driver 字段 > URI 前缀自动检测 > 默认 postgres
func detectDatabaseDriver(yamlDriver, uri string) string {
	if d := strings.ToLower(yamlDriver); d == "sqlite" || d == "postgres" || d == "mongodb" {
		return d
	}
	if strings.HasPrefix(uri, "file:") || strings.HasPrefix(uri, "sqlite:") {
		return "sqlite"
	}
	if strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://") {
		return "mongodb"
	}
	return "postgres"
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回脱敏后的配置摘要
func (c *Config) String() string {
	return fmt.Sprintf("env=%s api_port=%s redis=%s/%d prefix=%s", c.Env, c.APIPort, c.RedisAddr, c.RedisDB, c.KeyPrefix)
}
