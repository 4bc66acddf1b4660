package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"Aegis-MCP/internal/agent"
	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/internal/llm"
	"Aegis-MCP/internal/observability/metrics"
	redisstore "Aegis-MCP/internal/storage/redis"
	"Aegis-MCP/internal/task"
	"Aegis-MCP/internal/tool"
	"Aegis-MCP/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部驱动助手执行查询与工具调用。
// 除令牌签发与健康检查外，所有路由都先经过认证中间件，再进入指标统计。
type Server struct {
	addr     string
	pipeline *agent.Pipeline
	executor *tool.Executor
	auth     *auth.Service
	tasks    *task.Service
	gateway  *llm.Gateway
	cache    *redisstore.ResponseCache
	limiter  *redisstore.Limiter
	origins  []string
	log      *slog.Logger
}

// Option 用于在构造服务器时注入可选组件。
type Option func(*Server)

// WithTaskService 启用异步任务相关路由。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithGateway 启用模型提供方统计路由。
func WithGateway(gateway *llm.Gateway) Option {
	return func(s *Server) { s.gateway = gateway }
}

// WithResponseCache 为同步查询启用按用户隔离的回答缓存。
func WithResponseCache(cache *redisstore.ResponseCache) Option {
	return func(s *Server) { s.cache = cache }
}

// WithRateLimiter 为同步查询启用限流。限流器故障时放行请求，只记录告警。
func WithRateLimiter(limiter *redisstore.Limiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithAllowedOrigins 指定允许的跨域来源，缺省放行所有来源。
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer 构造 API 服务实例。pipeline 与 executor 是必需组件；
// authSvc 传 nil 表示认证停用，所有请求以匿名身份进入。
func NewServer(addr string, pipeline *agent.Pipeline, executor *tool.Executor, authSvc *auth.Service, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		pipeline: pipeline,
		executor: executor,
		auth:     authSvc,
		log:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装完整的路由表并套上跨域处理，供 Start 与测试复用。
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// 令牌签发不要求认证，但仍计入请求指标。
	router.Handle("/api/v1/auth/token",
		instrument("auth_token", http.HandlerFunc(s.handleToken))).Methods(http.MethodPost)

	router.Handle("/api/v1/query",
		s.protected("query", requires(http.MethodPost, "query:submit"), s.handleQuery)).Methods(http.MethodPost)
	router.Handle("/api/v1/tools/execute",
		s.protected("tool_execute", requires(http.MethodPost, "tools:execute"), s.handleToolExecute)).Methods(http.MethodPost)

	// /tasks/stats 必须先于 /tasks/{id} 注册，否则会被路径变量吞掉。
	router.Handle("/api/v1/tasks/stats",
		s.protected("task_stats", requires(http.MethodGet, "tasks:read"), s.handleTaskStats)).Methods(http.MethodGet)
	router.Handle("/api/v1/tasks/{id}",
		s.protected("task_detail", requires(http.MethodGet, "tasks:read"), s.handleTaskDetail)).Methods(http.MethodGet)
	router.Handle("/api/v1/tasks",
		s.protected("task_submit", requires(http.MethodPost, "tasks:submit"), s.handleSubmitTask)).Methods(http.MethodPost)
	router.Handle("/api/v1/tasks",
		s.protected("task_list", requires(http.MethodGet, "tasks:read"), s.handleListTasks)).Methods(http.MethodGet)

	router.Handle("/api/v1/providers/stats",
		s.protected("provider_stats", requires(http.MethodGet, "providers:read"), s.handleProviderStats)).Methods(http.MethodGet)
	router.Handle("/api/v1/providers/stats/reset",
		s.protected("provider_stats_reset", requires(http.MethodPost, "providers:admin"), s.handleProviderStatsReset)).Methods(http.MethodPost)

	// 资源与提示词目录仅要求通过认证，不附加权限。
	router.Handle("/api/v1/resources",
		s.protected("resource_list", nil, s.handleResources)).Methods(http.MethodGet)
	router.Handle("/api/v1/resources/read",
		s.protected("resource_read", nil, s.handleResourceRead)).Methods(http.MethodGet)
	router.Handle("/api/v1/prompts",
		s.protected("prompt_list", nil, s.handlePrompts)).Methods(http.MethodGet)
	router.Handle("/api/v1/prompts/render",
		s.protected("prompt_render", nil, s.handlePromptRender)).Methods(http.MethodPost)

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return corsWrapper.Handler(router)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// protected 先经认证中间件，再套请求指标。指标在认证外层，
// 这样 401/403 也会计入对应路由的请求计数。
func (s *Server) protected(event string, perms map[string][]string, handler http.HandlerFunc) http.Handler {
	middleware := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: perms,
		AuditEvent:          event,
	})
	return instrument(event, middleware(handler))
}

// requires 构造单一方法的权限要求表。
func requires(method string, permissions ...string) map[string][]string {
	return map[string][]string{method: permissions}
}

// instrument 记录请求计数与耗时，路由名作为 handler 标签。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	})
}

// statusRecorder 捕获写出的状态码，供指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// respondJSON 序列化并写出响应体。
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Error("写出响应失败", slog.Any("error", err))
	}
}

// respondError 按 {"error":{"code","message"}} 的约定写出错误，
// SDK 依赖这个结构还原错误码。
func respondError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
}

// statusFromCode 把内部错误码映射为 HTTP 状态码。
func statusFromCode(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeAuthFailure:
		return http.StatusUnauthorized
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeProviderUnavailable, xerrors.CodeNoProviderConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondCoded 按错误携带的错误码写出响应，未编码错误归为未知错误。
func respondCoded(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	respondError(w, statusFromCode(code), code, err.Error())
}
