package llm

import (
	"context"
	"log/slog"
	"sync/atomic"

	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/pkg/logger"
)

// Stats 记录主备两路模型的成功调用次数。计数只在调用成功时累加，
// 整体失败不会改变任何计数器。
type Stats struct {
	PrimaryCount  uint64 `json:"primary_count"`
	FallbackCount uint64 `json:"fallback_count"`
	TotalCount    uint64 `json:"total_count"`
}

// Gateway 按主备顺序调用大模型：主提供方任何一次失败都会把完全相同的
// 消息序列转交给备用提供方，两路都失败才向上返回错误。
// 网关本身不做重试与退避，一次交接就是全部的恢复手段。
type Gateway struct {
	primary  Client
	fallback Client
	log      *slog.Logger

	primaryCount  atomic.Uint64
	fallbackCount atomic.Uint64
}

// NewGateway 构造网关。任一提供方都可以为空；两者都为空时网关仍然
// 可用，只是每次调用都会立即返回 NO_PROVIDER_CONFIGURED。
func NewGateway(primary, fallback Client) *Gateway {
	log := logger.Named("llm.gateway")
	if primary == nil {
		log.Warn("未配置主模型提供方")
	}
	if fallback == nil {
		log.Warn("未配置备用模型提供方")
	}
	return &Gateway{primary: primary, fallback: fallback, log: log}
}

// Available 报告是否存在至少一个已配置的提供方。
func (g *Gateway) Available() bool {
	return g != nil && (g.primary != nil || g.fallback != nil)
}

// Invoke 依次尝试主备提供方并返回助手回复。
func (g *Gateway) Invoke(ctx context.Context, messages []Message, opts Options) (*Message, error) {
	if g.primary == nil && g.fallback == nil {
		return nil, xerrors.New(xerrors.CodeNoProviderConfigured, "没有可用的大模型提供方")
	}

	var primaryErr error
	if g.primary != nil {
		reply, err := g.primary.Invoke(ctx, messages, opts)
		if err == nil {
			g.primaryCount.Add(1)
			g.log.Debug("主提供方调用成功", slog.String("provider", g.primary.Name()))
			return reply, nil
		}
		primaryErr = err
		g.log.Warn("主提供方调用失败，切换备用提供方",
			slog.String("provider", g.primary.Name()),
			slog.String("error", err.Error()),
		)
	}

	if g.fallback != nil {
		// 备用请求必须携带与主请求完全一致的消息序列。
		reply, err := g.fallback.Invoke(ctx, messages, opts)
		if err == nil {
			g.fallbackCount.Add(1)
			g.log.Info("备用提供方调用成功", slog.String("provider", g.fallback.Name()))
			return reply, nil
		}
		g.log.Error("备用提供方调用失败",
			slog.String("provider", g.fallback.Name()),
			slog.String("error", err.Error()),
		)
		return nil, xerrors.Wrap(xerrors.CodeProviderUnavailable, err, "主备提供方均不可用",
			xerrors.WithMetadata("primary_error", errorString(primaryErr)),
			xerrors.WithMetadata("fallback_error", err.Error()),
		)
	}

	return nil, xerrors.Wrap(xerrors.CodeProviderUnavailable, primaryErr, "主提供方失败且未配置备用提供方",
		xerrors.WithMetadata("primary_error", errorString(primaryErr)),
		xerrors.WithMetadata("fallback_error", "not configured"),
	)
}

// InvokeWithTools 以函数调用方式请求主提供方。函数调用只走主路；
// 主路不可用或失败时降级为普通调用，此时返回的是自由文本而非工具指令。
func (g *Gateway) InvokeWithTools(ctx context.Context, messages []Message, tools []ToolSchema, opts Options) (*Message, error) {
	if g.primary != nil {
		if capable, ok := g.primary.(ToolCapable); ok && len(tools) > 0 {
			reply, err := capable.InvokeWithTools(ctx, messages, tools, opts)
			if err == nil {
				g.primaryCount.Add(1)
				g.log.Debug("函数调用成功", slog.String("provider", g.primary.Name()))
				return reply, nil
			}
			g.log.Warn("函数调用失败，降级为普通调用",
				slog.String("provider", g.primary.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return g.Invoke(ctx, messages, opts)
}

// Snapshot 返回当前统计。读取之间不保证一致快照，仅用于观测。
func (g *Gateway) Snapshot() Stats {
	primary := g.primaryCount.Load()
	fallback := g.fallbackCount.Load()
	return Stats{
		PrimaryCount:  primary,
		FallbackCount: fallback,
		TotalCount:    primary + fallback,
	}
}

// ResetStats 清零统计计数。
func (g *Gateway) ResetStats() {
	g.primaryCount.Store(0)
	g.fallbackCount.Store(0)
	g.log.Info("模型调用统计已清零")
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
