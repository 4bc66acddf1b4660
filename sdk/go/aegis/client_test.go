package aegis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAuthenticateStoresTokens(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		grants = append(grants, req.GrantType)
		_ = json.NewEncoder(w).Encode(TokenPair{
			AccessToken:  "access-" + req.GrantType,
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
			TokenType:    "Bearer",
			Surfaces:     req.Surfaces,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	pair, err := client.Authenticate(context.Background(), PasswordGrant("alice", "secret", "READ_GMAIL"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "access-password" {
		t.Fatalf("expected stored access token, got %q", got)
	}
	if len(pair.Surfaces) != 1 || pair.Surfaces[0] != "READ_GMAIL" {
		t.Fatalf("expected narrowed surfaces echoed back, got %v", pair.Surfaces)
	}

	if _, err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(grants) != 2 || grants[1] != GrantRefresh {
		t.Fatalf("expected refresh grant on second call, got %v", grants)
	}
	if got := client.AccessToken(); got != "access-refresh_token" {
		t.Fatalf("expected refreshed access token, got %q", got)
	}
}

func TestAskRequiresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode query: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Outcome{
			Response: "you have 2 unread emails",
			Sources:  []Source{{URI: "gmail://inbox/unread", Tool: "fetch_unread_emails", Surface: "READ_GMAIL"}},
			Errors:   []string{},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	if _, err := client.Ask(context.Background(), "check my inbox"); err == nil {
		t.Fatal("expected error without access token")
	}

	client.SetAccessToken("token")
	outcome, err := client.Ask(context.Background(), "check my inbox")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if outcome.Response != "you have 2 unread emails" {
		t.Fatalf("unexpected response: %q", outcome.Response)
	}
	if len(outcome.Sources) != 1 || outcome.Sources[0].Surface != "READ_GMAIL" {
		t.Fatalf("unexpected sources: %v", outcome.Sources)
	}
}

func TestSubmitAndWaitTask(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/tasks" && r.Method == http.MethodPost:
			var submission TaskSubmission
			if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
				t.Fatalf("decode submission: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Query: submission.Query, Status: TaskPending})
		case r.URL.Path == "/api/v1/tasks/task-1" && r.Method == http.MethodGet:
			status := TaskRunning
			task := Task{ID: "task-1", Status: status}
			if polls.Add(1) >= 3 {
				task.Status = TaskSucceeded
				task.Result = &Outcome{Response: "done", Sources: []Source{}, Errors: []string{}}
			}
			_ = json.NewEncoder(w).Encode(task)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	created, err := client.SubmitTask(context.Background(), TaskSubmission{Query: "summarize my mentions"})
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if created.Status != TaskPending {
		t.Fatalf("expected pending task, got %s", created.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := client.WaitTask(ctx, created.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait task: %v", err)
	}
	if final.Status != TaskSucceeded {
		t.Fatalf("expected succeeded, got %s", final.Status)
	}
	if final.Result == nil || final.Result.Response != "done" {
		t.Fatalf("unexpected result: %+v", final.Result)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestListTasksEncodesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("offset") != "10" {
			t.Fatalf("unexpected paging params: %s", r.URL.RawQuery)
		}
		if query.Get("status") != "pending,running" {
			t.Fatalf("unexpected status param: %q", query.Get("status"))
		}
		if query.Get("q") != "wallet" {
			t.Fatalf("unexpected q param: %q", query.Get("q"))
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "task-1", Status: TaskPending}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	items, err := client.ListTasks(context.Background(), TaskFilter{
		Limit:    5,
		Offset:   10,
		Statuses: []TaskStatus{TaskPending, TaskRunning},
		Query:    "wallet",
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(items) != 1 || items[0].ID != "task-1" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestGetTaskError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "TASK_NOT_FOUND", "message": "task not found"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	_, err := client.GetTask(context.Background(), "task-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "TASK_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestExecuteToolReportsPolicyBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/execute" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ToolResult{
			ToolName:        "fetch_unread_emails",
			Surface:         "READ_GMAIL",
			Success:         false,
			Error:           "result blocked by content policy",
			BlockedPatterns: []string{"OTP"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	result, err := client.ExecuteTool(context.Background(), "fetch_unread_emails", map[string]any{"limit": 5})
	if err != nil {
		t.Fatalf("execute tool: %v", err)
	}
	if result.Success {
		t.Fatal("expected blocked execution to report success=false")
	}
	if len(result.BlockedPatterns) != 1 || result.BlockedPatterns[0] != "OTP" {
		t.Fatalf("unexpected blocked patterns: %v", result.BlockedPatterns)
	}
}

func TestPlainTextErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "未授权", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("expired")

	_, err := client.ProviderStats(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "未授权" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
