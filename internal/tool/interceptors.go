package tool

import (
	"context"
	"fmt"
	"time"

	"Aegis-MCP/internal/audit"
	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
)

// Authorization 校验调用方是否持有工具所需的能力面权限。UNKNOWN 能力面
// 没有任何权限能够覆盖，一律拒绝。
func Authorization() Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			surface := req.Tool.Surface
			if surface == auth.SurfaceUnknown {
				return nil, xerrors.New(xerrors.CodeUnclassifiableSurface,
					fmt.Sprintf("工具 %s 无法归入任何能力面", req.Tool.Name),
					xerrors.WithMetadata("tool_name", req.Tool.Name))
			}
			if req.Context == nil || !req.Context.Allows(surface) {
				return nil, xerrors.New(xerrors.CodePermissionDenied,
					fmt.Sprintf("缺少能力面权限: %s", surface),
					xerrors.WithMetadata("surface", string(surface)),
					xerrors.WithMetadata("tool_name", req.Tool.Name))
			}
			return next(ctx, req)
		}
	}
}

// ContextInjection 把用户标识与该能力面对应的凭证注入调用参数。
// 注入只发生在链内的参数副本上，调用方传入的 args 与 RuntimeContext
// 均保持原样；已有的同名参数不被覆盖。
func ContextInjection() Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			if req.Args == nil {
				req.Args = make(map[string]any)
			}
			if rc := req.Context; rc != nil {
				if rc.UserID != "" {
					if _, exists := req.Args["user_id"]; !exists {
						req.Args["user_id"] = rc.UserID
					}
				}
				if key := credentialKey(req.Tool.Surface); key != "" {
					if token, ok := rc.Credential(key); ok {
						if _, exists := req.Args["access_token"]; !exists {
							req.Args["access_token"] = token
						}
					}
				}
				if walletScoped(req.Tool.Surface) && rc.WalletAddress != "" {
					if _, exists := req.Args["address"]; !exists {
						req.Args["address"] = rc.WalletAddress
					}
				}
			}
			return next(ctx, req)
		}
	}
}

// Execution 为终端后端调用施加统一超时，并把后端返回的任何错误折叠为
// 工具执行错误，原始原因保留在错误链上。
func Execution(timeout time.Duration) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			data, err := next(ctx, req)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeToolExecution, err,
					fmt.Sprintf("执行工具 %s 失败", req.Tool.Name),
					xerrors.WithMetadata("tool_name", req.Tool.Name))
			}
			return data, nil
		}
	}
}

// Audit 在调用返回后写入一条审计记录。拦截器位于链的最外层，鉴权拒绝
// 与执行失败同样留痕；记录动作本身绝不影响调用结果。
func Audit(recorder audit.Recorder) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			data, err := next(ctx, req)
			if recorder != nil {
				userID := ""
				if req.Context != nil {
					userID = req.Context.UserID
				}
				recorder.Record(ctx, audit.Entry{
					Kind:     audit.KindToolCall,
					UserID:   userID,
					Surface:  string(req.Tool.Surface),
					ToolName: req.Tool.Name,
					Outcome:  outcomeOf(err),
				})
			}
			return data, err
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return audit.OutcomeSuccess
	case xerrors.IsCode(err, xerrors.CodePermissionDenied),
		xerrors.IsCode(err, xerrors.CodeUnclassifiableSurface):
		return audit.OutcomeDenied
	default:
		return audit.OutcomeFailed
	}
}
