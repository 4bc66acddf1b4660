package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"Aegis-MCP/internal/agent"
	"Aegis-MCP/internal/auth"
	"Aegis-MCP/internal/backend/gmail"
	"Aegis-MCP/internal/backend/market"
	"Aegis-MCP/internal/backend/social"
	"Aegis-MCP/internal/backend/wallet"
	"Aegis-MCP/internal/llm"
	"Aegis-MCP/internal/policy"
	redisstore "Aegis-MCP/internal/storage/redis"
	"Aegis-MCP/internal/task"
	"Aegis-MCP/internal/tool"
)

const testWalletAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// newAuthService 以固定账号构造 JWT 认证服务：alice 拥有全部业务权限，
// bob 只能读任务，mallory 是普通第二用户，root 可跨用户管理任务。
func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	store, err := auth.NewMemoryStore(nil)
	if err != nil {
		t.Fatalf("build auth store: %v", err)
	}
	svc, err := auth.NewService(context.Background(), auth.Config{
		Mode: auth.ModeJWT,
		JWT: auth.JWTOptions{
			Secret:    "server-test-secret",
			Issuer:    "aegis-test",
			AccessTTL: 60,
		},
		Seeds: []auth.Seed{
			{
				Username: "alice",
				Password: "s3cret",
				Permissions: []string{
					"query:submit", "tools:execute",
					"tasks:submit", "tasks:read",
					"providers:read", "providers:admin",
				},
				Surfaces:      []string{"READ_WALLET", "READ_GMAIL", "WRITE_GMAIL"},
				Credentials:   map[string]string{"gmail_token": "tok-123"},
				WalletAddress: testWalletAddress,
			},
			{
				Username:    "bob",
				Password:    "hunter2",
				Permissions: []string{"tasks:read"},
				Surfaces:    []string{"READ_GMAIL"},
			},
			{
				Username:    "mallory",
				Password:    "pa55word",
				Permissions: []string{"tasks:submit", "tasks:read"},
				Surfaces:    []string{"READ_SOCIAL_X"},
			},
			{
				Username:    "root",
				Password:    "rootpw",
				Permissions: []string{"tasks:read", "tasks:admin"},
			},
		},
	}, store)
	if err != nil {
		t.Fatalf("build auth service: %v", err)
	}
	return svc
}

// newServerFixture 构造带离线后端的完整服务器。模型网关留空，
// 管线走启发式解析，行为完全确定。
func newServerFixture(t *testing.T, opts ...Option) *Server {
	t.Helper()
	registry, err := tool.NewRegistry(tool.Definitions{},
		gmail.New(),
		social.New(),
		wallet.NewOffline(wallet.Config{}),
		market.New(),
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	executor := tool.NewExecutor(registry)
	pipeline := agent.New(nil, registry, executor, policy.NewEngine())
	return NewServer(":0", pipeline, executor, newAuthService(t), opts...)
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func issueToken(t *testing.T, handler http.Handler, username, password string, surfaces ...string) string {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "", auth.TokenRequest{
		Username: username,
		Password: password,
		Surfaces: surfaces,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token request failed: status %d body %s", rec.Code, rec.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatalf("expected a non-empty access token")
	}
	return pair.AccessToken
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body.String())
	}
	if envelope.Error.Code == "" {
		t.Fatalf("error envelope must carry a code: %s", rec.Body.String())
	}
	return envelope
}

func TestQueryEndToEndWithToken(t *testing.T) {
	handler := newServerFixture(t).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "What's my wallet balance?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}

	var outcome agent.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if len(outcome.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", outcome.Errors)
	}
	if outcome.Response == "" {
		t.Fatalf("expected a non-empty response")
	}
	if len(outcome.Sources) != 1 || outcome.Sources[0].URI != "wallet://portfolio" {
		t.Fatalf("unexpected sources: %+v", outcome.Sources)
	}
}

func TestQueryRejectsMissingAndUnderprivilegedTokens(t *testing.T) {
	handler := newServerFixture(t).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/query", "",
		map[string]string{"query": "anything"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// bob 没有 query:submit 权限。
	token := issueToken(t, handler, "bob", "hunter2")
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "anything"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing permission, got %d", rec.Code)
	}
}

func TestQueryValidatesBody(t *testing.T) {
	handler := newServerFixture(t).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank query, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Error.Code != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}
}

func TestQueryServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := redisstore.NewResponseCache(client, redisstore.CacheConfig{TTL: time.Minute})

	handler := newServerFixture(t, WithResponseCache(cache)).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	// 预置的缓存命中必须原样返回，不再进入管线。
	sentinel := []byte(`{"response":"cached answer","sources":[],"errors":[]}`)
	if err := cache.Store(context.Background(), "alice", "What's my wallet balance?", sentinel); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "What's my wallet balance?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), sentinel) {
		t.Fatalf("expected the cached payload verbatim, got %s", rec.Body.String())
	}

	// 成功的回答写入缓存，响应体与缓存内容逐字节一致。
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "Show my transaction history"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}
	stored, hit, err := cache.Lookup(context.Background(), "alice", "Show my transaction history")
	if err != nil || !hit {
		t.Fatalf("expected the outcome to be cached: hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(stored, rec.Body.Bytes()) {
		t.Fatalf("cache and response body diverge")
	}
}

func TestQueryRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter := redisstore.NewLimiter(client, redisstore.LimiterConfig{RatePerMinute: 1, Burst: 1})

	handler := newServerFixture(t, WithRateLimiter(limiter)).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "What's my wallet balance?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/query", token,
		map[string]string{"query": "What's my wallet balance?"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Error.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}
}

func TestTaskLifecycleAndOwnership(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	defer svc.Close()

	handler := newServerFixture(t, WithTaskService(svc)).Handler()
	aliceToken := issueToken(t, handler, "alice", "s3cret")
	malloryToken := issueToken(t, handler, "mallory", "pa55word")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/tasks", aliceToken,
		map[string]any{"query": "summarize my inbox"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit failed: status %d body %s", rec.Code, rec.Body.String())
	}
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	if created.UserID != "alice" || created.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", created)
	}
	// 任务落库时固化提交时刻令牌授予的数据面快照。
	if !strings.Contains(strings.Join(created.Surfaces, ","), "READ_GMAIL") {
		t.Fatalf("expected granted surfaces on the task, got %v", created.Surfaces)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/tasks", malloryToken,
		map[string]any{"query": "any mentions of me on X?"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("second submit failed: %d", rec.Code)
	}

	// 普通用户的列表只包含本人任务。
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/tasks", malloryToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	var listed []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode task list: %v", err)
	}
	if len(listed) != 1 || listed[0].UserID != "mallory" {
		t.Fatalf("list must be scoped to the caller, got %+v", listed)
	}

	// 他人任务与不存在的任务不可区分。
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/tasks/"+created.ID, malloryToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign task must look missing, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Error.Code != string(task.CodeTaskNotFound) {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/tasks/"+created.ID, aliceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner lookup failed: %d", rec.Code)
	}

	// 管理员可以看到全部任务。
	rootToken := issueToken(t, handler, "root", "rootpw")
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/tasks", rootToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list failed: %d", rec.Code)
	}
	listed = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode admin list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("admin should see both tasks, got %d", len(listed))
	}

	// /tasks/stats 不能被 /tasks/{id} 吞掉，统计口径同样按归属过滤。
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/tasks/stats", aliceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: status %d body %s", rec.Code, rec.Body.String())
	}
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTaskListRejectsUnknownStatus(t *testing.T) {
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(4), 3)
	defer svc.Close()
	handler := newServerFixture(t, WithTaskService(svc)).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/tasks?status=sleeping", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestProviderStatsEndpoints(t *testing.T) {
	handler := newServerFixture(t, WithGateway(llm.NewGateway(nil, nil))).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/providers/stats", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
	var stats llm.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCount != 0 {
		t.Fatalf("fresh gateway should report zero invocations: %+v", stats)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/providers/stats/reset", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset failed: %d", rec.Code)
	}

	// bob 没有 providers:read 权限。
	bobToken := issueToken(t, handler, "bob", "hunter2")
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/providers/stats", bobToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bob, got %d", rec.Code)
	}
}

func TestToolExecuteHonorsSurfaceScope(t *testing.T) {
	handler := newServerFixture(t).Handler()

	token := issueToken(t, handler, "alice", "s3cret")
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/tools/execute", token,
		map[string]any{"tool": "search_email_threads", "args": map[string]any{"query": "invoice"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute failed: status %d body %s", rec.Code, rec.Body.String())
	}
	var result tool.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Success || result.ToolName != "search_email_threads" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// 令牌只授予 READ_WALLET 时，写邮件被拦截，但仍返回结构化结果。
	scoped := issueToken(t, handler, "alice", "s3cret", "READ_WALLET")
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/tools/execute", scoped,
		map[string]any{"tool": "send_email"})
	if rec.Code != http.StatusOK {
		t.Fatalf("denied execute should still answer 200, got %d", rec.Code)
	}
	result = tool.Result{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode denied result: %v", err)
	}
	if result.Success {
		t.Fatalf("send_email must be denied without WRITE_GMAIL")
	}
	if !strings.Contains(result.Error, "WRITE_GMAIL") {
		t.Fatalf("denial should name the missing surface: %q", result.Error)
	}
}

func TestResourceAndPromptCatalogues(t *testing.T) {
	handler := newServerFixture(t).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/resources", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resource list failed: %d", rec.Code)
	}
	var resources struct {
		Resources []string `json:"resources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resources); err != nil {
		t.Fatalf("decode resources: %v", err)
	}
	if len(resources.Resources) != 8 {
		t.Fatalf("expected 8 resource URIs, got %v", resources.Resources)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/resources/read?uri=wallet://portfolio", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resource read failed: status %d body %s", rec.Code, rec.Body.String())
	}
	var snapshot struct {
		URI     string `json:"uri"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Content == "" {
		t.Fatalf("expected resource content")
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/resources/read?uri=ftp://nope", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown resource should 400, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Error.Code != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/prompts", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prompt list failed: %d", rec.Code)
	}
	var prompts struct {
		Prompts []string `json:"prompts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &prompts); err != nil {
		t.Fatalf("decode prompts: %v", err)
	}
	if !strings.Contains(strings.Join(prompts.Prompts, ","), "classify_intent") {
		t.Fatalf("expected classify_intent template, got %v", prompts.Prompts)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/prompts/render", token,
		map[string]any{"name": "summarize_thread", "args": map[string]string{"thread": "hello", "sentences": "2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("render failed: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/prompts/render", token,
		map[string]any{"name": "no_such_template"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown template should 404, got %d", rec.Code)
	}
}

func TestTokenEndpointErrorMapping(t *testing.T) {
	handler := newServerFixture(t).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "",
		auth.TokenRequest{Username: "alice", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password should 401, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Error.Code != "AUTH_FAILURE" {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "",
		auth.TokenRequest{GrantType: "client_credentials"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported grant should 400, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/auth/token", "",
		auth.TokenRequest{Username: "alice", Password: "s3cret", Surfaces: []string{"SIGN_TRANSACTIONS"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungranted surface should 403, got %d", rec.Code)
	}
}

func TestHealthEndpointIsOpen(t *testing.T) {
	handler := newServerFixture(t).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health failed: %d", rec.Code)
	}
	var health struct {
		Status   string `json:"status"`
		AuthMode string `json:"auth_mode"`
		LLMReady bool   `json:"llm_ready"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.AuthMode != "jwt" {
		t.Fatalf("unexpected health payload: %+v", health)
	}
	if health.LLMReady {
		t.Fatalf("no gateway configured, llm_ready must be false")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	server := newServerFixture(t)
	server.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop after cancellation")
	}
}

func TestSubmitTaskWithoutServiceIsUnavailable(t *testing.T) {
	handler := newServerFixture(t).Handler()
	token := issueToken(t, handler, "alice", "s3cret")

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/tasks", token,
		map[string]any{"query": "anything"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without task service, got %d", rec.Code)
	}
}
