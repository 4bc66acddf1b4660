package tool

import (
	"context"

	"Aegis-MCP/internal/auth"
)

// Descriptor 描述一个已注册的工具。Surface 在注册阶段由分类表推导，
// 不接受外部覆盖。
type Descriptor struct {
	Name           string         `json:"name"`
	Surface        auth.Surface   `json:"surface"`
	Description    string         `json:"description,omitempty"`
	InputSchema    map[string]any `json:"input_schema,omitempty"`
	RemoteEndpoint string         `json:"remote_endpoint,omitempty"`
}

// Invoker 是能力面后端的统一契约：声明自己提供哪些工具，并按
// (工具名, 参数) 执行调用。实现方只关心业务语义，鉴权、注入与审计
// 由调用层的拦截器链完成。
type Invoker interface {
	// Name 返回后端名称，用于日志与注册冲突提示。
	Name() string
	// Descriptors 返回该后端提供的全部工具描述。
	Descriptors() []Descriptor
	// Invoke 执行一次工具调用，返回可序列化的结果数据。
	Invoke(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// Request 是一次工具调用在拦截器链中流转的载体。Args 在进入链前已经
// 拷贝，链内注入不会回写调用方传入的参数。
type Request struct {
	Tool    Descriptor
	Args    map[string]any
	Context *auth.RuntimeContext
}

// Handler 处理一次工具调用。
type Handler func(ctx context.Context, req *Request) (any, error)

// Interceptor 包装 Handler，构成调用链的一环。
type Interceptor func(next Handler) Handler

// NewChain 把拦截器按给定顺序套在终端处理器外，列表中第一个拦截器
// 位于最外层。
func NewChain(terminal Handler, interceptors ...Interceptor) Handler {
	handler := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		handler = interceptors[i](handler)
	}
	return handler
}

// Result 是工具调用的统一出参。调用层保证无论调用经历了什么，
// 返回的都是一个填好字段的 Result。
type Result struct {
	ToolName        string       `json:"tool_name"`
	Surface         auth.Surface `json:"surface"`
	Success         bool         `json:"success"`
	Data            any          `json:"data,omitempty"`
	Error           string       `json:"error,omitempty"`
	BlockedPatterns []string     `json:"blocked_patterns,omitempty"`

	// Err 保留原始错误供进程内判定错误码，不参与序列化。
	Err error `json:"-"`
}
