package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Aegis-MCP/internal/llm"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1"
	defaultModelName = "deepseek/deepseek-r1-0528:free"
	defaultSiteURL   = "https://aegis-mcp.app"
	defaultAppName   = "Aegis-MCP"
	defaultTimeout   = 60 * time.Second

	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// Config 描述调用 OpenRouter Chat Completions API 所需的信息。
// SiteURL 与 AppName 用于 OpenRouter 的来源归因头。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	SiteURL     string
	AppName     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client 通过 HTTP 调用 OpenRouter 聚合的大模型能力。
// 该提供方只支持普通对话，不支持函数调用。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	siteURL     string
	appName     string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 OpenRouter 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenRouter API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	siteURL := strings.TrimSpace(cfg.SiteURL)
	if siteURL == "" {
		siteURL = defaultSiteURL
	}

	appName := strings.TrimSpace(cfg.AppName)
	if appName == "" {
		appName = defaultAppName
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		siteURL:     siteURL,
		appName:     appName,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name 返回提供方名称。
func (c *Client) Name() string {
	return "openrouter"
}

// Invoke 发送消息序列并返回助手回复。
func (c *Client) Invoke(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Message, error) {
	payload, err := c.buildPayload(messages, opts)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenRouter 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", c.siteURL)
	httpReq.Header.Set("X-Title", c.appName)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenRouter 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenRouter 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenRouter 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenRouter 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenRouter 响应内容为空")
	}

	return &llm.Message{
		Role:    llm.RoleAssistant,
		Content: content,
	}, nil
}

func (c *Client) buildPayload(messages []llm.Message, opts llm.Options) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	wire := make([]message, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, message{
			Role:    wireRole(msg.Role),
			Content: msg.Content,
		})
	}

	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    wire,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}
	if len(opts.Stop) > 0 {
		body["stop"] = opts.Stop
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenRouter 请求失败: %w", err)
	}
	return encoded, nil
}

// wireRole 把内部角色映射为协议角色，未知角色按用户处理。
func wireRole(role llm.Role) string {
	switch role {
	case llm.RoleSystem:
		return "system"
	case llm.RoleAssistant:
		return "assistant"
	case llm.RoleTool:
		return "tool"
	default:
		return "user"
	}
}
