// Package aegis provides a small HTTP client for the Aegis-MCP REST API.
package aegis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is how often WaitTask polls when no interval is given.
const DefaultPollInterval = 2 * time.Second

// Grant types accepted by the token endpoint. An empty grant type is treated
// as a password grant by the server.
const (
	GrantPassword = "password"
	GrantRefresh  = "refresh_token"
)

// Client wraps the HTTP interactions with the Aegis-MCP REST API. It stores
// the tokens issued by Authenticate and attaches them to subsequent calls.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// TokenRequest is the payload of the token issuance endpoint. Surfaces
// optionally narrows the issued token to a subset of the account's granted
// capability surfaces.
type TokenRequest struct {
	GrantType    string   `json:"grant_type"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Surfaces     []string `json:"surfaces,omitempty"`
}

// PasswordGrant builds a password-grant token request, optionally narrowed to
// the named surfaces.
func PasswordGrant(username, password string, surfaces ...string) TokenRequest {
	return TokenRequest{
		GrantType: GrantPassword,
		Username:  username,
		Password:  password,
		Surfaces:  surfaces,
	}
}

// RefreshGrant builds a refresh-grant token request.
func RefreshGrant(refreshToken string) TokenRequest {
	return TokenRequest{GrantType: GrantRefresh, RefreshToken: refreshToken}
}

// TokenPair represents the issued access and refresh tokens. Expiry fields
// are lifetimes in seconds, not absolute timestamps.
type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	TokenType        string   `json:"token_type"`
	Surfaces         []string `json:"surfaces,omitempty"`
}

// Source identifies a piece of backend data that contributed to a response.
type Source struct {
	URI     string `json:"uri"`
	Tool    string `json:"tool,omitempty"`
	Surface string `json:"surface,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Outcome is the terminal shape of an assistant run: the generated response,
// the sources it drew on, and any non-fatal errors collected along the way.
type Outcome struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
	Errors   []string `json:"errors"`
}

// ToolResult describes a single direct tool execution. Success reflects
// whether the call went through; authorization and content-policy blocks are
// reported here rather than as transport errors.
type ToolResult struct {
	ToolName        string   `json:"tool_name"`
	Surface         string   `json:"surface"`
	Success         bool     `json:"success"`
	Data            any      `json:"data,omitempty"`
	Error           string   `json:"error,omitempty"`
	BlockedPatterns []string `json:"blocked_patterns,omitempty"`
}

// TaskStatus enumerates the lifecycle states of a queued task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// TaskSubmission represents the payload required to queue a new task. The ID
// is optional; the server assigns one when it is left empty.
type TaskSubmission struct {
	ID       string         `json:"id,omitempty"`
	Query    string         `json:"query"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Task is the server-side view of a queued assistant query. Surfaces records
// the capability snapshot captured when the task was submitted; timestamps
// are Unix seconds.
type Task struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Query      string         `json:"query"`
	Surfaces   []string       `json:"surfaces,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     TaskStatus     `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *Outcome       `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// TaskFilter narrows task listings and statistics. The zero value selects
// everything visible to the caller.
type TaskFilter struct {
	Limit    int
	Offset   int
	Statuses []TaskStatus
	Query    string
}

func (f TaskFilter) values() url.Values {
	values := url.Values{}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(f.Statuses) > 0 {
		names := make([]string, 0, len(f.Statuses))
		for _, status := range f.Statuses {
			names = append(names, string(status))
		}
		values.Set("status", strings.Join(names, ","))
	}
	if f.Query != "" {
		values.Set("q", f.Query)
	}
	return values
}

// TaskStats aggregates task counts per status.
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ProviderStats reports how many successful model invocations each provider
// served.
type ProviderStats struct {
	PrimaryCount  uint64 `json:"primary_count"`
	FallbackCount uint64 `json:"fallback_count"`
	TotalCount    uint64 `json:"total_count"`
}

// Health is the response of the unauthenticated health endpoint.
type Health struct {
	Status   string `json:"status"`
	AuthMode string `json:"auth_mode"`
	LLMReady bool   `json:"llm_ready"`
}

// ResourceContent is a rendered snapshot of a single resource URI.
type ResourceContent struct {
	URI     string `json:"uri"`
	Content string `json:"content"`
}

// PromptMessage is one message of a rendered prompt template.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("aegis api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("aegis api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Aegis-MCP API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Authenticate exchanges credentials for a token pair and stores the tokens
// for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, req TokenRequest) (TokenPair, error) {
	var pair TokenPair
	if err := c.post(ctx, "/api/v1/auth/token", req, &pair, false); err != nil {
		return TokenPair{}, err
	}
	c.mu.Lock()
	c.accessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		c.refreshToken = pair.RefreshToken
	}
	c.mu.Unlock()
	return pair, nil
}

// Refresh renews the session using the stored refresh token.
func (c *Client) Refresh(ctx context.Context) (TokenPair, error) {
	c.mu.RLock()
	token := c.refreshToken
	c.mu.RUnlock()
	if token == "" {
		return TokenPair{}, errors.New("aegis: refresh token is not set")
	}
	return c.Authenticate(ctx, RefreshGrant(token))
}

// Ask runs a query synchronously and returns the assistant's outcome. Errors
// collected by the pipeline are reported inside the outcome, not as a
// transport failure.
func (c *Client) Ask(ctx context.Context, query string) (Outcome, error) {
	payload := struct {
		Query string `json:"query"`
	}{Query: query}
	var outcome Outcome
	if err := c.post(ctx, "/api/v1/query", payload, &outcome, true); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// ExecuteTool invokes a single tool directly, typically after the user has
// confirmed a write action. The result always arrives with a 200 status;
// inspect Success and Error to see how the call fared.
func (c *Client) ExecuteTool(ctx context.Context, toolName string, args map[string]any) (ToolResult, error) {
	payload := struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args,omitempty"`
	}{Tool: toolName, Args: args}
	var result ToolResult
	if err := c.post(ctx, "/api/v1/tools/execute", payload, &result, true); err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

// SubmitTask queues a task under the authenticated user and returns the
// created task record.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created, true); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return Task{}, errors.New("aegis: task id is empty")
	}
	var detail Task
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID)
	if err := c.get(ctx, endpoint, nil, &detail, true); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns the caller's tasks, most recently updated first.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var items []Task
	if err := c.get(ctx, "/api/v1/tasks", filter.values(), &items, true); err != nil {
		return nil, err
	}
	return items, nil
}

// TaskStats aggregates the caller's tasks with the same filter semantics as
// ListTasks.
func (c *Client) TaskStats(ctx context.Context, filter TaskFilter) (TaskStats, error) {
	var stats TaskStats
	if err := c.get(ctx, "/api/v1/tasks/stats", filter.values(), &stats, true); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// WaitTask polls a task until it reaches a terminal status or the context is
// cancelled. A non-positive interval falls back to DefaultPollInterval.
func (c *Client) WaitTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		current, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if current.Status.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProviderStats reports the model gateway's per-provider success counters.
func (c *Client) ProviderStats(ctx context.Context) (ProviderStats, error) {
	var stats ProviderStats
	if err := c.get(ctx, "/api/v1/providers/stats", nil, &stats, true); err != nil {
		return ProviderStats{}, err
	}
	return stats, nil
}

// ResetProviderStats zeroes the provider counters.
func (c *Client) ResetProviderStats(ctx context.Context) error {
	return c.post(ctx, "/api/v1/providers/stats/reset", nil, nil, true)
}

// Health probes the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	if err := c.get(ctx, "/healthz", nil, &health, false); err != nil {
		return Health{}, err
	}
	return health, nil
}

// Resources lists the resource URIs the server exposes.
func (c *Client) Resources(ctx context.Context) ([]string, error) {
	var listing struct {
		Resources []string `json:"resources"`
	}
	if err := c.get(ctx, "/api/v1/resources", nil, &listing, true); err != nil {
		return nil, err
	}
	return listing.Resources, nil
}

// ReadResource renders a single resource snapshot. Authorization and content
// filtering apply exactly as they do for pipeline queries.
func (c *Client) ReadResource(ctx context.Context, uri string) (ResourceContent, error) {
	if strings.TrimSpace(uri) == "" {
		return ResourceContent{}, errors.New("aegis: resource uri is empty")
	}
	var content ResourceContent
	query := url.Values{"uri": []string{uri}}
	if err := c.get(ctx, "/api/v1/resources/read", query, &content, true); err != nil {
		return ResourceContent{}, err
	}
	return content, nil
}

// Prompts lists the named prompt templates the server ships.
func (c *Client) Prompts(ctx context.Context) ([]string, error) {
	var listing struct {
		Prompts []string `json:"prompts"`
	}
	if err := c.get(ctx, "/api/v1/prompts", nil, &listing, true); err != nil {
		return nil, err
	}
	return listing.Prompts, nil
}

// RenderPrompt renders a named template with the given arguments into a
// message sequence ready to hand to a model.
func (c *Client) RenderPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error) {
	payload := struct {
		Name string            `json:"name"`
		Args map[string]string `json:"args,omitempty"`
	}{Name: name, Args: args}
	var rendered struct {
		Name     string          `json:"name"`
		Messages []PromptMessage `json:"messages"`
	}
	if err := c.post(ctx, "/api/v1/prompts/render", payload, &rendered, true); err != nil {
		return nil, err
	}
	return rendered.Messages, nil
}

// AccessToken returns the currently stored access token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(body)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, reader, withAuth)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return nil, errors.New("aegis: access token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
