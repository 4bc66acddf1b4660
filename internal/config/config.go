package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Aegis-MCP/internal/audit"
	"Aegis-MCP/internal/backend/wallet"
)

// Config 描述 aegisd 在启动阶段加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Auth      AuthConfig      `json:"auth"`
	LLM       LLMConfig       `json:"llm"`
	Tools     ToolsConfig     `json:"tools"`
	Wallet    wallet.Config   `json:"wallet"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	WebSearch WebSearchConfig `json:"web_search"`
	Agent     AgentConfig     `json:"agent"`
	Storage   StorageConfig   `json:"storage"`
	Tasks     TasksConfig     `json:"tasks"`
	Audit     AuditConfig     `json:"audit"`
	Alerting  AlertingConfig  `json:"alerting"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址与跨域来源。
type ServerConfig struct {
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig 映射 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	AddSource   bool           `json:"add_source"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 描述独立审计日志文件的滚动策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AuthConfig 控制认证模式、主体存储以及 JWT 签发参数。
// Store 支持 memory 与 mysql 两种驱动。
type AuthConfig struct {
	Mode  string       `json:"mode"`
	Store string       `json:"store"`
	JWT   JWTConfig    `json:"jwt"`
	Seeds []SeedConfig `json:"seeds,omitempty"`
}

// JWTConfig 描述令牌签发所需的密钥与有效期（秒）。
// Secret 留空时从 SecretEnv 指定的环境变量读取，避免把密钥写进配置文件。
type JWTConfig struct {
	Secret            string   `json:"secret,omitempty"`
	SecretEnv         string   `json:"secret_env,omitempty"`
	Issuer            string   `json:"issuer"`
	Audience          []string `json:"audience,omitempty"`
	AccessTTLSeconds  int64    `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64    `json:"refresh_ttl_seconds"`
}

// ResolveSecret 返回签名密钥，优先使用明文字段，其次读取环境变量。
func (j JWTConfig) ResolveSecret() string {
	if secret := strings.TrimSpace(j.Secret); secret != "" {
		return secret
	}
	if j.SecretEnv != "" {
		return strings.TrimSpace(os.Getenv(j.SecretEnv))
	}
	return ""
}

// SeedConfig 描述启动时写入主体存储的账号。字段语义与 auth.Seed 一致，
// 单独定义是为了给配置文件提供稳定的 JSON 标签。
type SeedConfig struct {
	Username      string            `json:"username"`
	Password      string            `json:"password"`
	Roles         []string          `json:"roles,omitempty"`
	Permissions   []string          `json:"permissions,omitempty"`
	Surfaces      []string          `json:"surfaces,omitempty"`
	Credentials   map[string]string `json:"credentials,omitempty"`
	WalletAddress string            `json:"wallet_address,omitempty"`
	Disabled      bool              `json:"disabled,omitempty"`
}

// LLMConfig 描述主备两个模型提供方。备用方可以不配置。
type LLMConfig struct {
	Primary  ProviderConfig `json:"primary"`
	Fallback ProviderConfig `json:"fallback"`
}

// ProviderConfig 是单个模型提供方的连接参数。
// Provider 支持 mistral、openai、openrouter；SiteURL 与 AppName
// 仅 openrouter 使用。密钥同样支持环境变量间接引用。
type ProviderConfig struct {
	Provider       string  `json:"provider,omitempty"`
	APIKey         string  `json:"api_key,omitempty"`
	APIKeyEnv      string  `json:"api_key_env,omitempty"`
	BaseURL        string  `json:"base_url,omitempty"`
	Model          string  `json:"model,omitempty"`
	SiteURL        string  `json:"site_url,omitempty"`
	AppName        string  `json:"app_name,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// Configured 报告该提供方是否被启用。
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.Provider) != ""
}

// ResolveAPIKey 返回 API 密钥，优先明文字段，其次读取环境变量。
func (p ProviderConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	if p.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	return ""
}

// Timeout 把秒数换算为时长，未设置时返回零值交由客户端取默认。
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ToolsConfig 指向工具定义文件。路径相对配置文件所在目录解析。
type ToolsConfig struct {
	DefinitionsPath string `json:"definitions_path"`
}

// KnowledgeConfig 指向静态知识库文件，文件不存在时知识检索自动降级。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// WebSearchConfig 描述外部搜索服务。密钥为空时该能力保持关闭。
type WebSearchConfig struct {
	APIKey         string `json:"api_key,omitempty"`
	APIKeyEnv      string `json:"api_key_env,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	Count          int    `json:"count,omitempty"`
	SearchLang     string `json:"search_lang,omitempty"`
	Country        string `json:"country,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ResolveAPIKey 返回搜索服务密钥，优先明文字段，其次读取环境变量。
func (w WebSearchConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(w.APIKey); key != "" {
		return key
	}
	if w.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(w.APIKeyEnv))
	}
	return ""
}

// Timeout 把秒数换算为时长，未设置时返回零值交由客户端取默认。
func (w WebSearchConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// AgentConfig 调整流水线的并发度与附加系统指令。
type AgentConfig struct {
	MaxParallel  int    `json:"max_parallel"`
	Instructions string `json:"instructions,omitempty"`
}

// StorageConfig 汇总 MySQL 与 Redis 的连接信息，供认证存储、
// 任务存储、响应缓存与限流器复用。
type StorageConfig struct {
	MySQL MySQLConfig `json:"mysql"`
	Redis RedisConfig `json:"redis"`
}

// MySQLConfig 描述共享的 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// RedisConfig 描述共享的 Redis 连接以及建立在其上的两个能力开关。
type RedisConfig struct {
	Address   string          `json:"address"`
	Password  string          `json:"password,omitempty"`
	DB        int             `json:"db"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// CacheConfig 控制查询响应缓存。零值字段由缓存自身取默认。
type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	TTLSeconds int    `json:"ttl_seconds"`
	Prefix     string `json:"prefix,omitempty"`
}

// RateLimitConfig 控制按用户的令牌桶限流。零值字段由限流器自身取默认。
type RateLimitConfig struct {
	Enabled       bool   `json:"enabled"`
	RatePerMinute int    `json:"rate_per_minute"`
	Burst         int    `json:"burst"`
	Prefix        string `json:"prefix,omitempty"`
}

// TasksConfig 控制异步任务的存储驱动、重试上限与工作协程数。
// Store 支持 memory 与 mysql，mysql 复用 Storage.MySQL 的连接参数。
type TasksConfig struct {
	Store      string      `json:"store"`
	MaxRetries int         `json:"max_retries"`
	Workers    int         `json:"workers"`
	Queue      QueueConfig `json:"queue"`
}

// QueueConfig 选择任务队列驱动：memory、redis 或 rabbitmq。
type QueueConfig struct {
	Driver   string              `json:"driver"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述基于 Redis List 的队列连接。
type RedisQueueConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password,omitempty"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列连接与声明参数。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AuditConfig 控制审计记录的持久化。SQL.DSN 非空时启用数据库落盘，
// 否则审计仅写入日志。
type AuditConfig struct {
	SQL audit.SQLConfig `json:"sql"`
}

// AlertingConfig 描述任务失败告警的投递端点。URL 为空时不发送告警。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

// MetricsConfig 指定独立的指标监听地址。为空时指标仅通过主服务的
// /metrics 路由暴露。
type MetricsConfig struct {
	Address string `json:"address,omitempty"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，
// 并把文件型路径统一解析为相对配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "memory"
	}

	if c.Tasks.Store == "" {
		c.Tasks.Store = "memory"
	}
	if c.Tasks.MaxRetries <= 0 {
		c.Tasks.MaxRetries = 3
	}
	if c.Tasks.Queue.Driver == "" {
		c.Tasks.Queue.Driver = "memory"
	}

	c.Tools.DefinitionsPath = resolvePath(baseDir, c.Tools.DefinitionsPath)
	c.Knowledge.Source = resolvePath(baseDir, c.Knowledge.Source)
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	for i, output := range c.Logging.OutputPaths {
		// stdout/stderr 是 logger 约定的特殊目标，不参与路径解析。
		if output == "stdout" || output == "stderr" {
			continue
		}
		c.Logging.OutputPaths[i] = resolvePath(baseDir, output)
	}
}

// resolvePath 把相对路径锚定到配置文件所在目录，空路径原样返回。
func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
