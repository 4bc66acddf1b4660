package task

import (
	"context"

	"Aegis-MCP/internal/agent"
	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
)

// RuntimeResolver 在执行时解析任务所属用户的运行时上下文。
// 放在执行时而不是提交时解析，保证授权面的撤销对排队中的任务同样生效。
type RuntimeResolver func(ctx context.Context, userID string, surfaces []string) (*auth.RuntimeContext, error)

// StaticRuntimeResolver 直接把提交时记录的授权面快照还原为运行时上下文，
// 用于未接入用户目录的部署形态。无法解析的授权面名称会被直接忽略，
// 因此未知名称永远不会带来额外授权。
func StaticRuntimeResolver(walletAddress string) RuntimeResolver {
	return func(_ context.Context, userID string, surfaces []string) (*auth.RuntimeContext, error) {
		rc := &auth.RuntimeContext{
			UserID:        userID,
			Permissions:   make(map[auth.Surface]bool, len(surfaces)),
			WalletAddress: walletAddress,
		}
		for _, name := range surfaces {
			surface, err := auth.ParseSurface(name)
			if err != nil {
				continue
			}
			if surface.Grantable() {
				rc.Permissions[surface] = true
			}
		}
		return rc, nil
	}
}

// SubjectRuntimeResolver 在执行时从主体存储加载账号的最新授权状态，
// 再与提交时的授权面快照取交集。账号被禁用时任务立即失败，
// 快照之外的新授权也不会被追加到排队中的任务上。
func SubjectRuntimeResolver(store auth.Store) RuntimeResolver {
	return func(ctx context.Context, userID string, surfaces []string) (*auth.RuntimeContext, error) {
		if store == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "主体存储未初始化")
		}
		user, err := store.FindUserByUsername(ctx, userID)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePermissionDenied, err, "查找任务所属账号失败")
		}
		subject, err := store.LoadSubject(ctx, user.ID)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePermissionDenied, err, "加载任务主体失败")
		}
		if subject.Disabled {
			return nil, xerrors.Wrap(xerrors.CodePermissionDenied, auth.ErrSubjectRevoked, "任务所属账号已被禁用")
		}

		snapshot := make(map[auth.Surface]bool, len(surfaces))
		for _, name := range surfaces {
			surface, err := auth.ParseSurface(name)
			if err != nil {
				continue
			}
			snapshot[surface] = true
		}

		rc := subject.Runtime()
		for surface := range rc.Permissions {
			if !snapshot[surface] {
				delete(rc.Permissions, surface)
			}
		}
		return rc, nil
	}
}

// PipelineExecutor 把排队任务桥接到同步请求管线上执行。
type PipelineExecutor struct {
	pipeline *agent.Pipeline
	resolver RuntimeResolver
}

// NewPipelineExecutor 构造 PipelineExecutor。resolver 为空时退回
// 授权面快照模式。
func NewPipelineExecutor(pipeline *agent.Pipeline, resolver RuntimeResolver) *PipelineExecutor {
	if resolver == nil {
		resolver = StaticRuntimeResolver("")
	}
	return &PipelineExecutor{pipeline: pipeline, resolver: resolver}
}

// Execute 实现 Executor 接口。管线自身不返回错误，所有阶段性失败都
// 体现在结果三元组的 errors 字段里；这里的错误只来自上下文解析失败
// 或执行器未初始化。
func (e *PipelineExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	if e == nil || e.pipeline == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务执行器未初始化")
	}
	if task == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	rc, err := e.resolver(ctx, task.UserID, task.Surfaces)
	if err != nil {
		if xerrors.CodeOf(err) != xerrors.CodeUnknown {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodePermissionDenied, err, "解析任务运行时上下文失败")
	}
	outcome := e.pipeline.Run(ctx, task.Query, rc)
	return &ExecutionResult{
		Response: outcome.Response,
		Sources:  outcome.Sources,
		Errors:   outcome.Errors,
	}, nil
}

var _ Executor = (*PipelineExecutor)(nil)
