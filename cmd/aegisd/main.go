package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"Aegis-MCP/internal/agent"
	"Aegis-MCP/internal/api"
	"Aegis-MCP/internal/audit"
	"Aegis-MCP/internal/auth"
	"Aegis-MCP/internal/backend/gmail"
	"Aegis-MCP/internal/backend/market"
	"Aegis-MCP/internal/backend/social"
	"Aegis-MCP/internal/backend/wallet"
	"Aegis-MCP/internal/config"
	"Aegis-MCP/internal/knowledge"
	"Aegis-MCP/internal/llm"
	"Aegis-MCP/internal/llm/mistral"
	"Aegis-MCP/internal/llm/openai"
	"Aegis-MCP/internal/llm/openrouter"
	"Aegis-MCP/internal/observability/alerting"
	"Aegis-MCP/internal/observability/metrics"
	"Aegis-MCP/internal/policy"
	"Aegis-MCP/internal/storage/mysql"
	redisstore "Aegis-MCP/internal/storage/redis"
	"Aegis-MCP/internal/task"
	"Aegis-MCP/internal/tool"
	"Aegis-MCP/internal/websearch"
	"Aegis-MCP/pkg/logger"
)

// main 是 Aegis 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("aegisd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AEGIS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "aegis.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	mainLog := logger.Named("aegisd")

	// 认证主体存储。只有启用 JWT 模式时才需要建立。
	var authStore auth.Store
	if strings.EqualFold(cfg.Auth.Mode, string(auth.ModeJWT)) {
		switch cfg.Auth.Store {
		case "", "memory":
			store, err := auth.NewMemoryStore(nil)
			if err != nil {
				return err
			}
			authStore = store
		case "mysql":
			store, err := mysql.NewSQLAuthStore(ctx, mysqlPoolConfig(cfg.Storage.MySQL))
			if err != nil {
				return err
			}
			authStore = store
		default:
			return fmt.Errorf("未知的认证存储驱动: %s", cfg.Auth.Store)
		}
	}
	if closer, ok := authStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	authSvc, err := auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWT.ResolveSecret(),
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  cfg.Auth.JWT.AccessTTLSeconds,
			RefreshTTL: cfg.Auth.JWT.RefreshTTLSeconds,
		},
		Seeds: authSeeds(cfg.Auth.Seeds),
	}, authStore)
	if err != nil {
		return err
	}

	// 模型提供方网关。两个提供方都缺省时网关保持不可用，
	// 请求管线自动退回启发式模式。
	primary, err := createProviderClient(cfg.LLM.Primary)
	if err != nil {
		return err
	}
	fallback, err := createProviderClient(cfg.LLM.Fallback)
	if err != nil {
		return err
	}
	gateway := llm.NewGateway(primary, fallback)
	metrics.SetProviderStatsSource(func() (uint64, uint64) {
		stats := gateway.Snapshot()
		return stats.PrimaryCount, stats.FallbackCount
	})

	// 审计落点：结构化日志与指标始终开启，数据库落盘按配置追加。
	recorders := audit.MultiRecorder{audit.NewLogRecorder(), metrics.Recorder{}}
	if cfg.Audit.SQL.DSN != "" {
		sqlRecorder, err := audit.NewSQLRecorder(cfg.Audit.SQL)
		if err != nil {
			return err
		}
		defer sqlRecorder.Close()
		recorders = append(recorders, sqlRecorder)
	}

	var walletBackend *wallet.Backend
	if cfg.Wallet.RPCURL != "" {
		walletBackend, err = wallet.New(ctx, cfg.Wallet)
		if err != nil {
			return err
		}
	} else {
		walletBackend = wallet.NewOffline(cfg.Wallet)
	}

	definitions := tool.Definitions{}
	if cfg.Tools.DefinitionsPath != "" {
		definitions, err = tool.LoadDefinitions(cfg.Tools.DefinitionsPath)
		if err != nil {
			return err
		}
	}
	registry, err := tool.NewRegistry(definitions, gmail.New(), social.New(), walletBackend, market.New())
	if err != nil {
		return err
	}
	executor := tool.NewExecutor(registry, tool.WithRecorder(recorders))
	engine := policy.NewEngine(policy.WithRecorder(recorders))

	agentOpts := []agent.Option{
		agent.WithStageObserver(func(stage agent.Stage, elapsed time.Duration) {
			metrics.ObservePipelineStage(string(stage), elapsed)
		}),
	}
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, agent.WithKnowledgeProvider(provider))
	}
	if key := cfg.WebSearch.ResolveAPIKey(); key != "" {
		searchClient, err := websearch.NewClient(websearch.Config{
			APIKey:     key,
			BaseURL:    cfg.WebSearch.BaseURL,
			Count:      cfg.WebSearch.Count,
			SearchLang: cfg.WebSearch.SearchLang,
			Country:    cfg.WebSearch.Country,
			Timeout:    cfg.WebSearch.Timeout(),
		})
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, agent.WithWebSearch(searchClient))
	}
	if cfg.Agent.MaxParallel > 0 {
		agentOpts = append(agentOpts, agent.WithMaxParallel(cfg.Agent.MaxParallel))
	}
	if cfg.Agent.Instructions != "" {
		agentOpts = append(agentOpts, agent.WithInstructions(cfg.Agent.Instructions))
	}

	pipeline := agent.New(gateway, registry, executor, engine, agentOpts...)

	var taskStore task.Store
	switch cfg.Tasks.Store {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(cfg.Storage.MySQL.DSN)
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", cfg.Tasks.Store)
	}

	var taskQueue task.Queue
	switch cfg.Tasks.Queue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Tasks.Queue.Redis.Address,
			Password:  cfg.Tasks.Queue.Redis.Password,
			DB:        cfg.Tasks.Queue.Redis.DB,
			Queue:     cfg.Tasks.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Tasks.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.Tasks.Queue.RabbitMQ.URL,
			Queue:      cfg.Tasks.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Tasks.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Tasks.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Tasks.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Tasks.Queue.Driver)
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Tasks.MaxRetries)
	defer func() {
		if err := taskService.Close(); err != nil {
			mainLog.Error("关闭任务服务失败", "error", err)
		}
	}()

	// 排队任务的运行时解析：接入用户目录时按执行时的最新授权取交集，
	// 否则退回提交时的授权面快照。
	resolver := task.StaticRuntimeResolver("")
	if authStore != nil {
		resolver = task.SubjectRuntimeResolver(authStore)
	}

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Tasks.Workers),
	}
	if cfg.Alerting.WebhookURL != "" {
		processorOpts = append(processorOpts,
			task.WithAlertDispatcher(alerting.NewFanout(alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL))))
	}
	processor := task.NewProcessor(
		task.NewPipelineExecutor(pipeline, resolver),
		taskStore, taskQueue, taskQueue,
		processorOpts...,
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			mainLog.Error("任务处理器异常退出", "error", err)
		}
	}()

	apiOpts := []api.Option{
		api.WithTaskService(taskService),
		api.WithGateway(gateway),
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithAllowedOrigins(cfg.Server.AllowedOrigins))
	}
	if cfg.Storage.Redis.Address != "" && (cfg.Storage.Redis.Cache.Enabled || cfg.Storage.Redis.RateLimit.Enabled) {
		client, err := redisstore.Open(ctx, redisstore.Config{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		if cfg.Storage.Redis.Cache.Enabled {
			apiOpts = append(apiOpts, api.WithResponseCache(redisstore.NewResponseCache(client, redisstore.CacheConfig{
				TTL:    time.Duration(cfg.Storage.Redis.Cache.TTLSeconds) * time.Second,
				Prefix: cfg.Storage.Redis.Cache.Prefix,
			})))
		}
		if cfg.Storage.Redis.RateLimit.Enabled {
			apiOpts = append(apiOpts, api.WithRateLimiter(redisstore.NewLimiter(client, redisstore.LimiterConfig{
				RatePerMinute: cfg.Storage.Redis.RateLimit.RatePerMinute,
				Burst:         cfg.Storage.Redis.RateLimit.Burst,
				Prefix:        cfg.Storage.Redis.RateLimit.Prefix,
			})))
		}
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				mainLog.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, pipeline, executor, authSvc, apiOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createProviderClient 根据配置构造单个模型提供方客户端。
// 未配置的提供方返回 nil，由网关负责可用性判定。
func createProviderClient(cfg config.ProviderConfig) (llm.Client, error) {
	if !cfg.Configured() {
		return nil, nil
	}
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s 提供方需要配置 api_key 或 api_key_env", cfg.Provider)
	}

	switch cfg.Provider {
	case "mistral":
		return mistral.NewClient(mistral.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout(),
		})
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout(),
		})
	case "openrouter":
		return openrouter.NewClient(openrouter.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			SiteURL:     cfg.SiteURL,
			AppName:     cfg.AppName,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的模型提供方: %s", cfg.Provider)
	}
}

// mysqlPoolConfig 把配置文件的秒数换算为连接池时长。
func mysqlPoolConfig(cfg config.MySQLConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

// authSeeds 把配置文件里的账号种子转换为认证服务的种子结构。
func authSeeds(seeds []config.SeedConfig) []auth.Seed {
	if len(seeds) == 0 {
		return nil
	}
	converted := make([]auth.Seed, 0, len(seeds))
	for _, seed := range seeds {
		converted = append(converted, auth.Seed{
			Username:      seed.Username,
			Password:      seed.Password,
			Roles:         seed.Roles,
			Permissions:   seed.Permissions,
			Surfaces:      seed.Surfaces,
			Credentials:   seed.Credentials,
			WalletAddress: seed.WalletAddress,
			Disabled:      seed.Disabled,
		})
	}
	return converted
}
