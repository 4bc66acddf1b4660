package llm

import "context"

// Role 枚举对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 表示一条对话消息。ToolCalls 仅在模型要求调用工具时出现。
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall 描述模型发起的一次工具调用请求。
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolSchema 描述提供给模型做函数调用的工具声明。
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Options 控制单次推理的生成参数。零值表示使用提供方默认值。
type Options struct {
	Temperature *float64
	MaxTokens   int
	Stop        []string
}

// Client 定义调用单个大模型提供方的统一接口。
type Client interface {
	// Name 返回提供方名称，用于日志与统计。
	Name() string
	// Invoke 发送完整的消息序列并返回助手回复。
	Invoke(ctx context.Context, messages []Message, opts Options) (*Message, error)
}

// ToolCapable 由支持函数调用的提供方实现。
type ToolCapable interface {
	InvokeWithTools(ctx context.Context, messages []Message, tools []ToolSchema, opts Options) (*Message, error)
}

// SystemMessage 构造系统角色消息。
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage 构造用户角色消息。
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage 构造助手角色消息。
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
