package openai

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
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second

	defaultTemperature = 0.2
	defaultMaxTokens   = 2000
)

// Config 描述调用 OpenAI 兼容的 Chat Completions API 所需的信息。
// 指向自建推理网关时只需覆盖 BaseURL。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client 通过 HTTP 调用 OpenAI 或兼容服务提供的大模型能力，
// 支持普通对话与函数调用两种请求方式。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var (
	_ llm.Client      = (*Client)(nil)
	_ llm.ToolCapable = (*Client)(nil)
)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
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
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name 返回提供方名称。
func (c *Client) Name() string {
	return "openai"
}

// Invoke 发送消息序列并返回助手回复。
func (c *Client) Invoke(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Message, error) {
	return c.complete(ctx, messages, nil, opts)
}

// InvokeWithTools 以函数调用方式请求模型，返回的回复中可能携带工具调用。
func (c *Client) InvokeWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, opts llm.Options) (*llm.Message, error) {
	if len(tools) == 0 {
		return c.complete(ctx, messages, nil, opts)
	}
	return c.complete(ctx, messages, tools, opts)
}

func (c *Client) complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, opts llm.Options) (*llm.Message, error) {
	payload, err := c.buildPayload(messages, tools, opts)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	choice := decoded.Choices[0].Message
	reply := &llm.Message{
		Role:    llm.RoleAssistant,
		Content: strings.TrimSpace(choice.Content),
	}
	for _, call := range choice.ToolCalls {
		arguments := map[string]any{}
		if trimmed := strings.TrimSpace(call.Function.Arguments); trimmed != "" {
			if err := json.Unmarshal([]byte(trimmed), &arguments); err != nil {
				return nil, fmt.Errorf("解析工具调用参数失败: %w", err)
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}
	if reply.Content == "" && len(reply.ToolCalls) == 0 {
		return nil, errors.New("OpenAI 响应内容为空")
	}
	return reply, nil
}

func (c *Client) buildPayload(messages []llm.Message, tools []llm.ToolSchema, opts llm.Options) ([]byte, error) {
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
	if len(tools) > 0 {
		declarations := make([]map[string]any, 0, len(tools))
		for _, tool := range tools {
			parameters := tool.Parameters
			if parameters == nil {
				parameters = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			declarations = append(declarations, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  parameters,
				},
			})
		}
		body["tools"] = declarations
		body["tool_choice"] = "auto"
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
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
