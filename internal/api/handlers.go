package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"Aegis-MCP/internal/agent"
	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/internal/prompt"
	"Aegis-MCP/internal/task"
)

// anonymousUser 是认证停用时的占位身份，只拥有零授权的运行时上下文。
const anonymousUser = "anonymous"

// adminPermission 允许跨用户查看任务。
const adminPermission = "tasks:admin"

// requestIdentity 提取请求身份。认证停用或上下文缺失时退回匿名身份，
// 对应的运行时上下文不携带任何授权，下游会拒绝所有受限数据面。
func requestIdentity(r *http.Request) (*auth.Subject, *auth.RuntimeContext) {
	subject := auth.SubjectFromContext(r.Context())
	rc := auth.RuntimeFromContext(r.Context())
	if rc == nil {
		userID := anonymousUser
		if subject != nil {
			userID = subject.Username
		}
		rc = &auth.RuntimeContext{UserID: userID}
	}
	return subject, rc
}

// decodeBody 解析 JSON 请求体，失败时直接写出 400。
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return false
	}
	return true
}

// handleHealth 报告服务状态、认证模式与模型网关可用性。
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"auth_mode": string(s.auth.Mode()),
		"llm_ready": s.gateway != nil && s.gateway.Available(),
	})
}

// handleToken 签发访问令牌。认证停用时该接口不可用。
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth.Mode() == auth.ModeDisabled {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeAuthFailure, "认证服务未启用")
		return
	}

	var req auth.TokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnsupportedGrant):
			respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
		case errors.Is(err, auth.ErrSurfaceNotGranted):
			respondError(w, http.StatusForbidden, xerrors.CodePermissionDenied, err.Error())
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
			respondError(w, http.StatusUnauthorized, xerrors.CodeAuthFailure, "用户名或凭据无效")
		default:
			respondCoded(w, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

type queryRequest struct {
	Query string `json:"query"`
}

// handleQuery 同步执行一次助手查询。请求先过限流与回答缓存，
// 再进入管线；终态输出永远是 {response, sources, errors} 三个字段。
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "query 不能为空")
		return
	}

	ctx := r.Context()
	_, rc := requestIdentity(r)
	userID := rc.UserID

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			// 限流器故障时放行，只记录告警。
			s.log.Warn("限流检查失败", slog.String("user", userID), slog.Any("error", err))
		} else if !allowed {
			respondError(w, http.StatusTooManyRequests, xerrors.CodeRateLimited, "请求过于频繁，请稍后再试")
			return
		}
	}

	if s.cache != nil {
		payload, hit, err := s.cache.Lookup(ctx, userID, query)
		if err != nil {
			s.log.Warn("查询缓存失败", slog.String("user", userID), slog.Any("error", err))
		} else if hit {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(payload)
			return
		}
	}

	outcome := s.pipeline.Run(ctx, query, rc)
	payload, err := json.Marshal(outcome)
	if err != nil {
		respondError(w, http.StatusInternalServerError, xerrors.CodeUnknown, "响应序列化失败")
		return
	}
	// 只缓存没有任何错误的完整回答。
	if s.cache != nil && len(outcome.Errors) == 0 {
		if err := s.cache.Store(ctx, userID, query, payload); err != nil {
			s.log.Warn("写入缓存失败", slog.String("user", userID), slog.Any("error", err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

type toolExecuteRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// handleToolExecute 直接执行单个工具，用于用户确认后的写操作。
// 执行结果永远以 200 返回，成功与否由 success 字段表达；
// 授权拦截与策略扫描照常生效，该接口不绕过任何防线。
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var req toolExecuteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Tool)
	if name == "" {
		respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "tool 不能为空")
		return
	}

	_, rc := requestIdentity(r)
	result := s.executor.Execute(r.Context(), name, req.Args, rc)
	respondJSON(w, http.StatusOK, result)
}

type submitTaskRequest struct {
	ID       string         `json:"id,omitempty"`
	Query    string         `json:"query"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleSubmitTask 提交异步任务。任务归属当前认证用户，授权数据面
// 取提交时刻令牌授予的快照。
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	var req submitTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	_, rc := requestIdentity(r)
	granted := rc.GrantedSurfaces()
	surfaces := make([]string, 0, len(granted))
	for _, surface := range granted {
		surfaces = append(surfaces, string(surface))
	}

	created, err := s.tasks.Submit(r.Context(), task.SubmitRequest{
		ID:       req.ID,
		UserID:   rc.UserID,
		Query:    req.Query,
		Surfaces: surfaces,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondCoded(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, created)
}

// taskListOptions 解析 limit/offset/status/q 查询参数。
// 非法的数字参数按缺省处理，非法的状态值直接报错。
func taskListOptions(r *http.Request) ([]task.ListOption, error) {
	values := r.URL.Query()
	opts := make([]task.ListOption, 0, 4)

	if raw := values.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := values.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := values.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 2)
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, fmt.Errorf("未知任务状态: %s", part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := strings.TrimSpace(values.Get("q")); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

// scopeToOwner 把非管理员的查询限定在本人名下的任务。
func scopeToOwner(subject *auth.Subject, opts []task.ListOption) []task.ListOption {
	if subject != nil && !subject.HasPermission(adminPermission) {
		opts = append(opts, task.WithUser(subject.Username))
	}
	return opts
}

// handleListTasks 按更新时间倒序分页列出任务。
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	opts, err := taskListOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
		return
	}
	subject, _ := requestIdentity(r)
	opts = scopeToOwner(subject, opts)

	items, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		respondCoded(w, err)
		return
	}
	if items == nil {
		items = []*task.Task{}
	}
	respondJSON(w, http.StatusOK, items)
}

// handleTaskDetail 查询单个任务。非管理员访问他人任务与任务不存在
// 返回完全相同的应答，避免探测任务归属。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	id := mux.Vars(r)["id"]

	got, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		respondCoded(w, err)
		return
	}
	subject, _ := requestIdentity(r)
	if subject != nil && !subject.HasPermission(adminPermission) && got.UserID != subject.Username {
		respondError(w, http.StatusNotFound, task.CodeTaskNotFound, task.ErrTaskNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, got)
}

// handleTaskStats 统计符合过滤条件的任务，口径与列表接口一致。
func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未启用")
		return
	}
	opts, err := taskListOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
		return
	}
	subject, _ := requestIdentity(r)
	opts = scopeToOwner(subject, opts)

	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		respondCoded(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleProviderStats 返回模型提供方的成功调用计数。
func (s *Server) handleProviderStats(w http.ResponseWriter, _ *http.Request) {
	if s.gateway == nil {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeNoProviderConfigured, "未配置模型提供方")
		return
	}
	respondJSON(w, http.StatusOK, s.gateway.Snapshot())
}

// handleProviderStatsReset 清零提供方计数，通常用于演练与排障。
func (s *Server) handleProviderStatsReset(w http.ResponseWriter, _ *http.Request) {
	if s.gateway == nil {
		respondError(w, http.StatusServiceUnavailable, xerrors.CodeNoProviderConfigured, "未配置模型提供方")
		return
	}
	s.gateway.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// handleResources 列出全部可读资源 URI。
func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"resources": agent.Resources(),
	})
}

// handleResourceRead 读取单个资源快照，底层仍走完整的鉴权与过滤。
func (s *Server) handleResourceRead(w http.ResponseWriter, r *http.Request) {
	uri := strings.TrimSpace(r.URL.Query().Get("uri"))
	if uri == "" {
		respondError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "uri 不能为空")
		return
	}

	_, rc := requestIdentity(r)
	content, err := s.pipeline.ReadResource(r.Context(), uri, rc)
	if err != nil {
		respondCoded(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"uri":     uri,
		"content": content,
	})
}

// handlePrompts 列出全部具名提示词模板。
func (s *Server) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"prompts": prompt.TemplateNames(),
	})
}

type promptRenderRequest struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// handlePromptRender 渲染指定模板为消息序列。
func (s *Server) handlePromptRender(w http.ResponseWriter, r *http.Request) {
	var req promptRenderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	messages, err := prompt.Template(req.Name, req.Args)
	if err != nil {
		respondError(w, http.StatusNotFound, xerrors.CodeNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"name":     req.Name,
		"messages": messages,
	})
}
