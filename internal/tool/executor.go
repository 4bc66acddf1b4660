package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"Aegis-MCP/internal/audit"
	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/pkg/logger"
)

// defaultExecuteTimeout 是单次后端调用的默认上限。
const defaultExecuteTimeout = 30 * time.Second

// Executor 是工具调用层的入口：查注册表、装配拦截器链并执行调用。
// Execute 保证永远返回一个 Result，错误被折叠进结果而不向上传播。
type Executor struct {
	registry *Registry
	recorder audit.Recorder
	timeout  time.Duration
	log      *slog.Logger
}

// Option 定义可选的 Executor 配置。
type Option func(*Executor)

// WithTimeout 覆盖单次后端调用的超时上限。
func WithTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithRecorder 指定审计落点。
func WithRecorder(recorder audit.Recorder) Option {
	return func(e *Executor) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

// NewExecutor 创建工具调用执行器，默认审计落点为结构化日志。
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	executor := &Executor{
		registry: registry,
		recorder: audit.NewLogRecorder(),
		timeout:  defaultExecuteTimeout,
		log:      logger.Named("tool.executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(executor)
		}
	}
	return executor
}

// Execute 执行一次工具调用。调用要么成功携带数据返回，要么把遇到的
// 错误（未注册、鉴权拒绝、执行失败、超时）折叠进 Result；单个工具的
// 失败不会越过该边界影响其他调用。
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]any, rc *auth.RuntimeContext) Result {
	name := strings.ToLower(strings.TrimSpace(toolName))

	descriptor, invoker, ok := e.registry.Lookup(name)
	if !ok {
		err := xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未注册的工具: %s", toolName),
			xerrors.WithMetadata("tool_name", toolName))
		e.log.Warn("收到未注册工具的调用请求", "tool_name", toolName)
		// 未注册的工具同样留下审计记录。
		if e.recorder != nil {
			userID := ""
			if rc != nil {
				userID = rc.UserID
			}
			e.recorder.Record(ctx, audit.Entry{
				Kind:     audit.KindToolCall,
				UserID:   userID,
				Surface:  string(Classify(name)),
				ToolName: name,
				Outcome:  audit.OutcomeFailed,
			})
		}
		return Result{
			ToolName: name,
			Surface:  Classify(name),
			Success:  false,
			Error:    err.Error(),
			Err:      err,
		}
	}

	req := &Request{
		Tool:    descriptor,
		Args:    cloneArgs(args),
		Context: rc,
	}
	handler := NewChain(terminal(invoker),
		Audit(e.recorder),
		Authorization(),
		ContextInjection(),
		Execution(e.timeout),
	)

	data, err := handler(ctx, req)
	if err != nil {
		e.log.Warn("工具调用未成功",
			"tool_name", descriptor.Name,
			"surface", string(descriptor.Surface),
			"error", err)
		return Result{
			ToolName: descriptor.Name,
			Surface:  descriptor.Surface,
			Success:  false,
			Error:    err.Error(),
			Err:      err,
		}
	}
	return Result{
		ToolName: descriptor.Name,
		Surface:  descriptor.Surface,
		Success:  true,
		Data:     data,
	}
}

// terminal 把后端调用包装为链的终端处理器。
func terminal(invoker Invoker) Handler {
	return func(ctx context.Context, req *Request) (any, error) {
		return invoker.Invoke(ctx, req.Tool.Name, req.Args)
	}
}

// cloneArgs 浅拷贝调用参数，拦截器的注入不会回写调用方持有的 map。
func cloneArgs(args map[string]any) map[string]any {
	cloned := make(map[string]any, len(args)+3)
	for key, value := range args {
		cloned[key] = value
	}
	return cloned
}
